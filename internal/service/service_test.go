package service

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/testutil"
	"creditledger/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInjected = errors.New("injected storage failure")

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	ledger   *LedgerService
	balances *BalanceService
	billing  *BillingService
	payments *PaymentService
}

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{QueryTimeout: 5 * time.Second},
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			BillingEvents: "billing_events",
			PaymentEvents: "payment_events",
		}},
		Billing: config.BillingConfig{
			InitialGrant: money.MustParse("2.00"),
			RatePerUnit:  money.MustParse("2.00"),
			UnitSeconds:  600,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := testConfig()
	log := zap.NewNop()

	ledger := NewLedgerService(db, cfg, log)
	balances := NewBalanceService(db, cfg, ledger, log, nil)
	return &fixture{
		db:       db,
		cfg:      cfg,
		ledger:   ledger,
		balances: balances,
		billing:  NewBillingService(db, cfg, balances, ledger, log, nil),
		payments: NewPaymentService(db, cfg, balances, ledger, log, nil),
	}
}

// failOn makes statements of the given kind against table fail while the
// returned switch is on.
func failOn(t *testing.T, db *gorm.DB, kind, table string) *atomic.Bool {
	t.Helper()

	var on atomic.Bool
	hook := func(tx *gorm.DB) {
		if on.Load() && tx.Statement.Table == table {
			_ = tx.AddError(errInjected)
		}
	}

	name := "test:fail_" + kind + "_" + table
	var err error
	switch kind {
	case "query":
		err = db.Callback().Query().Before("gorm:query").Register(name, hook)
	case "create":
		err = db.Callback().Create().Before("gorm:create").Register(name, hook)
	case "update":
		err = db.Callback().Update().Before("gorm:update").Register(name, hook)
	default:
		t.Fatalf("unknown callback kind %q", kind)
	}
	if err != nil {
		t.Fatal(err)
	}
	return &on
}
