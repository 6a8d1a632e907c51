// Command basepayd runs the paywall checkout engine as an HTTP daemon.
package main

import (
	"context"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	basepay "github.com/crypto-plugins/basepay"
	"github.com/crypto-plugins/basepay/content"
	basepayhttp "github.com/crypto-plugins/basepay/http"
	"github.com/crypto-plugins/basepay/indexer"
	"github.com/crypto-plugins/basepay/notify"
	"github.com/crypto-plugins/basepay/pebbledb"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("daemon exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := basepay.ConfigFromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var ledger basepay.Ledger
	if cfg.DataDir != "" {
		store, err := pebbledb.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		ledger = store
		log.Info("using durable ledger", zap.String("dir", cfg.DataDir))
	} else {
		ledger = basepay.NewMemoryLedger()
		log.Warn("using in-memory ledger, orders are lost on restart")
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	sessions := basepay.NewSessionStore(cfg.SessionTTL)
	allocator := basepay.NewAllocator(ledger,
		basepay.WithReservationTTL(cfg.ReservationTTL),
		basepay.WithAllocatorLogger(log.Named("allocator")),
	)

	source := indexer.NewClient(&indexer.Config{
		BaseURL:       cfg.IndexerURL,
		APIKey:        cfg.IndexerAPIKey,
		ChainID:       cfg.ChainID,
		TokenContract: cfg.TokenContract,
		Address:       cfg.Wallet,
		PageSize:      cfg.PageSize,
	})

	matcherOpts := []basepay.MatcherOption{
		basepay.WithFreshnessWindow(cfg.FreshnessWindow),
		basepay.WithMatcherLogger(log.Named("matcher")),
	}
	if cfg.MatchPolicy == basepay.PolicySlack {
		matcherOpts = append(matcherOpts, basepay.WithAmountPolicy(basepay.SlackPolicy{Percent: cfg.SlackPercent}))
	}
	matcher := basepay.NewMatcher(ledger, sessions, source, common.HexToAddress(cfg.Wallet), matcherOpts...)

	svc := basepay.NewCheckoutService(ledger, sessions, allocator, matcher, catalog, cfg.Wallet,
		append(notifyHooks(cfg), basepay.WithServiceLogger(log.Named("checkout")))...)

	server := basepayhttp.NewServer(svc, cfg.AdminToken, basepayhttp.WithLogger(log.Named("http")))

	httpSrv := &nethttp.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func loadCatalog(path string) (basepay.ContentCatalog, error) {
	if path == "" {
		return content.NewStaticCatalog(), nil
	}
	return content.LoadFile(path)
}

// notifyHooks wires the mail relay into the checkout lifecycle. Without a
// relay endpoint no hooks are attached at all.
func notifyHooks(cfg basepay.Config) []basepay.ServiceOption {
	if cfg.MailEndpoint == "" {
		return nil
	}
	mailer := notify.NewHTTPMailer(cfg.MailEndpoint, cfg.MailAPIKey, cfg.MailFrom)

	var opts []basepay.ServiceOption
	if cfg.AdminEmail != "" && !cfg.DisableAdminNotify {
		opts = append(opts,
			basepay.WithAfterCheckoutStarted(notify.AdminCheckoutStarted(mailer, cfg.AdminEmail)),
			basepay.WithAfterPaymentConfirmed(notify.AdminPaymentConfirmed(mailer, cfg.AdminEmail, explorerTxURL(cfg.ChainID))),
		)
	}
	opts = append(opts, basepay.WithAfterAccessGranted(notify.BuyerAccessGranted(mailer, cfg.SupportURL)))
	return opts
}

func explorerTxURL(chainID int64) string {
	if chainID == basepay.BaseChainID {
		return "https://basescan.org/tx/"
	}
	return ""
}
