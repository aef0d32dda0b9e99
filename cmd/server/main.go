// Command server runs the exchange's HTTP API, matcher, and background
// invariant auditor. It shuts down on SIGINT/SIGTERM via
// signal.NotifyContext, with a tomb.Tomb tying the auditor and API server's
// lifetimes together so an error returned by either surfaces through
// t.Wait and both stop together.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"forum/internal/api"
	"forum/internal/audit"
	"forum/internal/common"
	"forum/internal/matcher"
	"forum/internal/store"
)

func main() {
	addr := flag.String("addr", envOr("EXCHANGE_ADDR", "0.0.0.0:9001"), "HTTP listen address")
	dsn := flag.String("dsn", envOr("EXCHANGE_DSN", ""), "sqlite DSN; empty selects the in-memory store")
	auditInterval := flag.Duration("audit-interval", 30*time.Second, "invariant sweep interval")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := openStore(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("opening store")
	}
	if err := seedRUB(ctx, st); err != nil {
		log.Fatal().Err(err).Msg("seeding RUB instrument")
	}

	match := matcher.New(st, log, nil)
	if err := match.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("recovering resting orders")
	}
	a := api.New(st, match, log)
	auditor := audit.New(st, log, *auditInterval)

	srv := &http.Server{Addr: *addr, Handler: a}

	var t tomb.Tomb
	auditor.Run(&t)
	t.Go(func() error {
		log.Info().Str("addr", *addr).Msg("listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	t.Go(func() error {
		select {
		case <-t.Dying():
		case <-ctx.Done():
			t.Kill(nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := t.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

// envOr reads a flag default from the environment first, so a container
// deployment can skip passing flags explicitly.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func openStore(dsn string) (store.Store, error) {
	if dsn == "" {
		return store.NewMemStore(), nil
	}
	return store.OpenGormStore(dsn)
}

// seedRUB bootstraps the single settlement-currency row that must exist
// at startup; Place's pre-check otherwise fails every request with
// SystemError.
func seedRUB(ctx context.Context, st store.Store) error {
	return st.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetInstrument(common.RUBTicker); err == nil {
			return nil
		}
		return tx.PutInstrument(&common.Instrument{Ticker: common.RUBTicker, Name: "Russian Ruble", IsListed: true})
	})
}
