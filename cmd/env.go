package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/referral-engine/internal/audit"
	"github.com/sells-group/referral-engine/internal/provider"
	"github.com/sells-group/referral-engine/internal/queue"
	"github.com/sells-group/referral-engine/internal/refdata"
	"github.com/sells-group/referral-engine/internal/storage"
	"github.com/sells-group/referral-engine/internal/store"
	"github.com/sells-group/referral-engine/internal/workflow"
	sfpkg "github.com/sells-group/referral-engine/pkg/salesforce"
)

// env holds the store and the shared services built on it. Commands that
// only need the store call initStore directly; everything else goes through
// initEnv. Callers defer env.Close().
type env struct {
	Store    store.Store
	Recorder *audit.Recorder
	Queues   *queue.Manager
	Engine   *workflow.Engine
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "referrals.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var wopts []workflow.Option
	if cfg.Workflow.SubmitConfirmTimeout > 0 {
		wopts = append(wopts, workflow.WithConfirmTimeout(cfg.Workflow.SubmitConfirmTimeout))
	}

	recorder := audit.NewRecorder(st)
	queues := queue.NewManager(st, recorder)
	engine := workflow.NewEngine(st, queues, recorder, wopts...)

	return &env{Store: st, Recorder: recorder, Queues: queues, Engine: engine}, nil
}

func initCatalog() (*refdata.Catalog, error) {
	if cfg.Refdata.Path != "" {
		return refdata.LoadDir(cfg.Refdata.Path)
	}
	return refdata.Load()
}

func initProviders() (*provider.Directory, error) {
	if cfg.Refdata.Path != "" {
		if _, err := os.Stat(filepath.Join(cfg.Refdata.Path, "providers.yaml")); err == nil {
			return provider.LoadDir(cfg.Refdata.Path)
		}
	}
	return provider.Load()
}

func initStorage() (storage.Store, error) {
	return storage.NewFS(cfg.Storage.Root, cfg.Storage.SecretKey)
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (REFERRAL_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	// Stay well under the org's API request allocation.
	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(5)), nil
}
