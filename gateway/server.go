package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type GatewayServer struct {
	httpServer *http.Server
	gateway    *Gateway
	logger     *slog.Logger
}

func SetupGatewayServer(gateway *Gateway, addr string, logger *slog.Logger) *GatewayServer {
	gatewayServer := &GatewayServer{gateway: gateway, logger: logger}
	gatewayServer.setupHttpServer(addr)
	return gatewayServer
}

// Start serves until ctx is cancelled, then stops accepting connections and
// drains in-flight requests. Swaps already past the upstream payment run to
// completion.
func (gs *GatewayServer) Start(ctx context.Context) error {
	gs.logger.Info("gateway server listening on: " + gs.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	gs.logger.Info("shutting down gateway server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return gs.httpServer.Shutdown(shutdownCtx)
}

func SetupLogger(workDir string) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
			source.Function = filepath.Base(source.Function)
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(workDir, "gateway.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %v", err)
	}
	logWriter := io.MultiWriter(os.Stdout, logFile)

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{AddSource: true, ReplaceAttr: replacer})), nil
}

func (gs *GatewayServer) setupHttpServer(addr string) {
	r := mux.NewRouter()

	r.HandleFunc("/mints", gs.getMints).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/payment", gs.postMeltRequest).Methods(http.MethodPost, http.MethodOptions)

	r.Use(setupHeaders)

	gs.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

func (gs *GatewayServer) writeResponse(
	rw http.ResponseWriter,
	req *http.Request,
	response []byte,
	logmsg string,
) {
	gs.logger.Info(logmsg, slog.Group("request", slog.String("method", req.Method),
		slog.String("url", req.URL.String()), slog.Int("code", http.StatusOK)))

	rw.Write(response)
}

// writeErr maps the gateway error onto the transport: hint-bearing client
// errors become 402 Payment Required with the serialized payment request in
// the X-Cashu header. The hint is never part of the JSON body.
func (gs *GatewayServer) writeErr(rw http.ResponseWriter, req *http.Request, errResponse *Error) {
	code := errResponse.httpStatus()

	gs.logger.Error(errResponse.Error(), slog.Group("request", slog.String("method", req.Method),
		slog.String("url", req.URL.String()), slog.Int("code", code)))

	if code == http.StatusPaymentRequired && errResponse.PaymentRequest != nil {
		if paymentRequest, err := errResponse.PaymentRequest.Encode(); err == nil {
			rw.Header().Set("X-Cashu", paymentRequest)
		}
	}

	rw.WriteHeader(code)
	errRes, _ := json.Marshal(errResponse)
	rw.Write(errRes)
}

func (gs *GatewayServer) getMints(rw http.ResponseWriter, req *http.Request) {
	jsonRes, err := json.Marshal(gs.gateway.Mints())
	if err != nil {
		gs.writeErr(rw, req, &Error{Code: 500, Message: "unable to serve mint list"})
		return
	}

	gs.writeResponse(rw, req, jsonRes, "returning supported mints")
}

func (gs *GatewayServer) postMeltRequest(rw http.ResponseWriter, req *http.Request) {
	var meltRequest MeltRequest
	if err := decodeJsonReqBody(req, &meltRequest); err != nil {
		gs.writeErr(rw, req, err)
		return
	}

	meltResponse, meltErr := gs.gateway.Melt(req.Context(), &meltRequest)
	if meltErr != nil {
		gs.writeErr(rw, req, meltErr)
		return
	}

	jsonRes, err := json.Marshal(meltResponse)
	if err != nil {
		gs.writeErr(rw, req, &Error{Code: 500, Message: "unable to serialize response"})
		return
	}

	gs.writeResponse(rw, req, jsonRes, "payment request completed")
}

func decodeJsonReqBody(req *http.Request, dst any) *Error {
	ct := req.Header.Get("Content-Type")
	if ct != "" {
		mediaType := strings.ToLower(strings.Split(ct, ";")[0])
		if mediaType != "application/json" {
			return &Error{Code: 400, Message: "Content-Type header is not application/json"}
		}
	}

	dec := json.NewDecoder(req.Body)
	// error if unknown field is specified in the json req body
	dec.DisallowUnknownFields()

	if err := dec.Decode(&dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxErr):
			return &Error{Code: 400, Message: fmt.Sprintf("bad json at %d", syntaxErr.Offset)}

		case errors.As(err, &typeErr):
			return &Error{Code: 400, Message: fmt.Sprintf("invalid %v for field %q", typeErr.Value, typeErr.Field)}

		case errors.Is(err, io.EOF):
			return &Error{Code: 400, Message: "request body is empty"}

		case strings.HasPrefix(err.Error(), "json: unknown field "):
			invalidField := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return &Error{Code: 400, Message: fmt.Sprintf("Request body contains unknown field %s", invalidField)}

		default:
			return &Error{Code: 400, Message: err.Error()}
		}
	}

	return nil
}
