package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/thesimplekid/cashu-gateway/gateway"
	"github.com/thesimplekid/cashu-gateway/gateway/lightning"
	"github.com/thesimplekid/cashu-gateway/wallet"
	"github.com/thesimplekid/cashu-gateway/wallet/storage"
	"github.com/urfave/cli/v2"
)

const workDirFlag = "workdir"

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "cashu payment gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  workDirFlag,
				Usage: "work directory holding config.toml, the wallet db and logs",
				Value: defaultWorkDir(),
			},
		},
		Action: start,
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Run the gateway server",
				Action: start,
			},
			{
				Name:   "pending",
				Usage:  "List redemptions that failed after the upstream payment settled",
				Action: pending,
			},
			{
				Name:      "pay-status",
				Usage:     "Look up an outgoing payment on the node by payment hash",
				ArgsUsage: "[PAYMENT_HASH]",
				Action:    payStatus,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func defaultWorkDir() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(homedir, ".cashu-gateway")
}

func setupWorkDir(ctx *cli.Context) (string, error) {
	workDir := ctx.String(workDirFlag)
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return "", fmt.Errorf("error creating work directory: %v", err)
	}

	// optional .env in the work directory
	godotenv.Load(filepath.Join(workDir, ".env"))

	return workDir, nil
}

func start(ctx *cli.Context) error {
	workDir, err := setupWorkDir(ctx)
	if err != nil {
		return err
	}

	logger, err := gateway.SetupLogger(workDir)
	if err != nil {
		return err
	}

	config, err := gateway.LoadConfig(workDir)
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}
	logger.Info("configuration loaded", slog.Int("mints", len(config.Wallet.MintURLs)))

	node, err := lightning.SetupCLNClient(lightning.CLNConfig{
		RestURL: config.Node.RestURL,
		Rune:    config.Node.Rune,
	})
	if err != nil {
		return fmt.Errorf("error setting up CLN client: %v", err)
	}

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelProbe()
	if err := node.ConnectionStatus(probeCtx); err != nil {
		return fmt.Errorf("lightning node unreachable: %v", err)
	}
	logger.Info("connected to lightning node", slog.String("url", config.Node.RestURL))

	db, err := storage.InitBolt(workDir)
	if err != nil {
		return fmt.Errorf("error opening wallet db: %v", err)
	}
	defer db.Close()

	multiMintWallet := wallet.NewMultiMintWallet()
	for _, mintURL := range config.Wallet.MintURLs {
		mintWallet := wallet.LoadWallet(db, mintURL)
		multiMintWallet.AddWallet(mintWallet)
		logger.Info("wallet ready", slog.String("mint", mintURL), slog.Uint64("balance", mintWallet.Balance()))

		// probe the mint in the background; an unreachable mint is not
		// fatal, the keyset is fetched again on first use
		go func(w *wallet.Wallet) {
			if err := w.RefreshKeyset(); err != nil {
				logger.Error("could not reach mint", slog.String("mint", w.MintURL()), slog.String("error", err.Error()))
			}
		}(mintWallet)
	}

	gw := gateway.NewGateway(node, multiMintWallet, db, multiMintWallet.Mints(), logger)
	server := gateway.SetupGatewayServer(gw, config.ListenAddress(), logger)

	serverCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("gateway running, press Ctrl+C to stop")
	return server.Start(serverCtx)
}

// payStatus asks the node about an outgoing payment. Together with the
// pending journal it lets an operator tell a failed payment apart from one
// that settled after the gateway reported an error.
func payStatus(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		return errors.New("payment hash not provided")
	}
	paymentHash := ctx.Args().First()

	workDir, err := setupWorkDir(ctx)
	if err != nil {
		return err
	}

	config, err := gateway.LoadConfig(workDir)
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}

	node, err := lightning.SetupCLNClient(lightning.CLNConfig{
		RestURL: config.Node.RestURL,
		Rune:    config.Node.Rune,
	})
	if err != nil {
		return fmt.Errorf("error setting up CLN client: %v", err)
	}

	statusCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := node.OutgoingPaymentStatus(statusCtx, paymentHash)
	if err != nil {
		return fmt.Errorf("error checking payment status: %v", err)
	}

	fmt.Printf("status: %s\n", status.State)
	if status.Preimage != "" {
		fmt.Printf("preimage: %s\n", status.Preimage)
	}
	return nil
}

func pending(ctx *cli.Context) error {
	workDir, err := setupWorkDir(ctx)
	if err != nil {
		return err
	}

	db, err := storage.InitBolt(workDir)
	if err != nil {
		return fmt.Errorf("error opening wallet db: %v", err)
	}
	defer db.Close()

	redemptions := db.GetPendingRedemptions()
	if len(redemptions) == 0 {
		fmt.Println("no pending redemptions")
		return nil
	}

	for _, redemption := range redemptions {
		fmt.Printf("id: %s\npreimage: %s\ncreated: %s\n",
			redemption.Id, redemption.Preimage, time.Unix(redemption.CreatedAt, 0).Format(time.RFC3339))
		for _, token := range redemption.Tokens {
			fmt.Printf("  token: %s\n", token)
		}
	}

	return nil
}
