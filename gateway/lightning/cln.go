package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CLNConfig holds configuration for the CLN backend
type CLNConfig struct {
	RestURL string
	Rune    string
}

// CLNClient pays invoices through a CLN node over REST
type CLNClient struct {
	config CLNConfig
	client *http.Client
}

// SetupCLNClient initializes a CLNClient with a shared HTTP client
func SetupCLNClient(config CLNConfig) (*CLNClient, error) {
	return &CLNClient{
		config: config,
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// helper function to create a request with headers
func (cln *CLNClient) newRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var jsonData []byte
	if body != nil {
		var err error
		jsonData, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Rune", cln.config.Rune)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// ConnectionStatus checks if the CLN node is reachable
func (cln *CLNClient) ConnectionStatus(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/getinfo", cln.config.RestURL)

	req, err := cln.newRequest(ctx, "POST", url, map[string]string{})
	if err != nil {
		return err
	}

	resp, err := cln.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Accept both 200 (OK) and 201 (Created) as successful responses
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("failed to connect to CLN: %s", resp.Status)
	}

	return nil
}

// MakePayment settles the bolt11 request and reports the revealed preimage
// and the total amount debited.
func (cln *CLNClient) MakePayment(ctx context.Context, unit string, outgoing OutgoingPayment) (PaymentResult, error) {
	if unit != "sat" {
		return PaymentResult{}, fmt.Errorf("unsupported unit: %s", unit)
	}

	url := fmt.Sprintf("%s/v1/pay", cln.config.RestURL)

	body := map[string]interface{}{"bolt11": outgoing.Bolt11}
	if outgoing.AmountMsat > 0 {
		body["amount_msat"] = fmt.Sprintf("%dmsat", outgoing.AmountMsat)
	}
	if outgoing.MaxFeeMsat > 0 {
		body["maxfee"] = fmt.Sprintf("%dmsat", outgoing.MaxFeeMsat)
	}

	req, err := cln.newRequest(ctx, "POST", url, body)
	if err != nil {
		return PaymentResult{}, err
	}

	resp, err := cln.client.Do(req)
	if err != nil {
		return PaymentResult{}, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return PaymentResult{}, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return PaymentResult{}, fmt.Errorf("failed to send payment: %s - %s", resp.Status, string(bodyBytes))
	}

	var response struct {
		Preimage       string `json:"payment_preimage"`
		Status         string `json:"status"`
		AmountSentMsat uint64 `json:"amount_sent_msat"`
		Error          string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return PaymentResult{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if response.Error != "" {
		return PaymentResult{}, fmt.Errorf("CLN error: %s", response.Error)
	}
	if response.Status != "complete" {
		return PaymentResult{}, fmt.Errorf("payment not complete: %s", response.Status)
	}

	// round sent msats up so change is never over-minted
	totalSpent := (response.AmountSentMsat + 999) / 1000

	return PaymentResult{
		Preimage:   response.Preimage,
		TotalSpent: totalSpent,
	}, nil
}

// OutgoingPaymentStatus looks up the status of an outgoing payment by its
// payment hash.
func (cln *CLNClient) OutgoingPaymentStatus(ctx context.Context, paymentHash string) (PaymentStatus, error) {
	url := fmt.Sprintf("%s/v1/listpays", cln.config.RestURL)

	req, err := cln.newRequest(ctx, "POST", url, map[string]string{"payment_hash": paymentHash})
	if err != nil {
		return PaymentStatus{}, err
	}

	resp, err := cln.client.Do(req)
	if err != nil {
		return PaymentStatus{}, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return PaymentStatus{}, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return PaymentStatus{}, fmt.Errorf("failed to check payment status: %s - %s", resp.Status, string(bodyBytes))
	}

	var listPaysResponse struct {
		Pays []struct {
			PaymentHash     string `json:"payment_hash"`
			Status          string `json:"status"`
			PaymentPreimage string `json:"preimage,omitempty"`
		} `json:"pays"`
	}
	if err := json.Unmarshal(bodyBytes, &listPaysResponse); err != nil {
		return PaymentStatus{}, fmt.Errorf("failed to parse response: %w", err)
	}

	for _, pay := range listPaysResponse.Pays {
		if pay.PaymentHash != paymentHash {
			continue
		}
		switch pay.Status {
		case "complete":
			return PaymentStatus{State: Succeeded, Preimage: pay.PaymentPreimage}, nil
		case "failed":
			return PaymentStatus{State: Failed}, nil
		default:
			return PaymentStatus{State: Pending}, nil
		}
	}

	// the node has no record of the payment
	return PaymentStatus{State: Failed}, nil
}
