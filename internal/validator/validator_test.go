package validator_test

import (
	"math"
	"slices"
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"

	"github.com/spachava753/tunectl/internal/config"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/validator"
)

func newValidator() *validator.Validator {
	return validator.New(config.DefaultValidationConfig())
}

func healthy() models.Result {
	return models.Result{
		SharpeRatio: 1.5,
		Volatility:  0.1,
		NumTrades:   20,
		SellTrades:  10,
		TotalCosts:  decimal.NewFromInt(500),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		result      models.Result
		splits      models.Splits
		health      models.HealthReport
		wantClass   models.Class
		wantReasons []string
	}{
		{
			name:      "no trades with zero volatility is valid",
			result:    models.Result{SharpeRatio: 0, Volatility: 0, NumTrades: 0},
			wantClass: models.ClassValid,
		},
		{
			name:      "healthy trial is valid",
			result:    healthy(),
			wantClass: models.ClassValid,
		},
		{
			name: "trades without sells",
			result: func() models.Result {
				r := healthy()
				r.SellTrades = 0
				return r
			}(),
			wantClass:   models.ClassInvalid,
			wantReasons: []string{validator.ReasonZeroSellTrades},
		},
		{
			name: "trades without costs",
			result: func() models.Result {
				r := healthy()
				r.TotalCosts = decimal.Zero
				return r
			}(),
			wantClass:   models.ClassInvalid,
			wantReasons: []string{validator.ReasonZeroCosts},
		},
		{
			name: "trades with zero volatility",
			result: func() models.Result {
				r := healthy()
				r.Volatility = 0
				return r
			}(),
			wantClass:   models.ClassInvalid,
			wantReasons: []string{validator.ReasonZeroVolatility},
		},
		{
			name:      "all defects enumerated",
			result:    models.Result{NumTrades: 5},
			wantClass: models.ClassInvalid,
			wantReasons: []string{
				validator.ReasonZeroVolatility,
				validator.ReasonZeroSellTrades,
				validator.ReasonZeroCosts,
			},
		},
		{
			name:   "engine reports invalid",
			result: healthy(),
			health: models.PresentHealth(models.EngineHealth{
				IsValid:  false,
				Warnings: []string{"equity curve flat"},
			}),
			wantClass:   models.ClassInvalid,
			wantReasons: []string{validator.ReasonEngineHealth, "engine: equity curve flat"},
		},
		{
			name:      "engine reports valid",
			result:    healthy(),
			health:    models.PresentHealth(models.EngineHealth{IsValid: true}),
			wantClass: models.ClassValid,
		},
		{
			name:   "train far above test is overfit",
			result: healthy(),
			splits: models.Splits{
				Train: &models.Result{SharpeRatio: 2.0},
				Test:  &models.Result{SharpeRatio: 1.0},
			},
			wantClass: models.ClassOverfit,
		},
		{
			name:   "train at the ratio boundary is not overfit",
			result: healthy(),
			splits: models.Splits{
				Train: &models.Result{SharpeRatio: 1.3},
				Test:  &models.Result{SharpeRatio: 1.0},
			},
			wantClass: models.ClassValid,
		},
		{
			name:   "negative test sharpe skips the overfit check",
			result: healthy(),
			splits: models.Splits{
				Train: &models.Result{SharpeRatio: 2.0},
				Test:  &models.Result{SharpeRatio: -0.5},
			},
			wantClass: models.ClassValid,
		},
		{
			name:   "missing test split skips the overfit check",
			result: healthy(),
			splits: models.Splits{
				Train: &models.Result{SharpeRatio: 5.0},
			},
			wantClass: models.ClassValid,
		},
		{
			name: "invalid wins over overfit",
			result: func() models.Result {
				r := healthy()
				r.SellTrades = 0
				return r
			}(),
			splits: models.Splits{
				Train: &models.Result{SharpeRatio: 2.0},
				Test:  &models.Result{SharpeRatio: 1.0},
			},
			wantClass:   models.ClassInvalid,
			wantReasons: []string{validator.ReasonZeroSellTrades},
		},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Classify(tt.result, tt.splits, tt.health)
			if got.Class != tt.wantClass {
				t.Fatalf("expected %s, got %s (reasons %v)", tt.wantClass, got.Class, got.Reasons)
			}
			if tt.wantReasons != nil && !slices.Equal(got.Reasons, tt.wantReasons) {
				t.Errorf("expected reasons %v, got %v", tt.wantReasons, got.Reasons)
			}
		})
	}
}

func TestClassifyDisabledRules(t *testing.T) {
	cfg := config.DefaultValidationConfig()
	cfg.RejectZeroCosts = false
	cfg.TrustEngineHealth = false
	v := validator.New(cfg)

	r := healthy()
	r.TotalCosts = decimal.Zero
	health := models.PresentHealth(models.EngineHealth{IsValid: false, Warnings: []string{"w"}})

	got := v.Classify(r, models.Splits{}, health)
	if got.Class != models.ClassValid {
		t.Errorf("expected valid with rules disabled, got %s %v", got.Class, got.Reasons)
	}
	if !slices.Equal(got.Warnings, []string{"w"}) {
		t.Errorf("expected engine warnings to be carried, got %v", got.Warnings)
	}
}

func TestCustomOverfitRatio(t *testing.T) {
	cfg := config.DefaultValidationConfig()
	cfg.OverfitRatio = 2.5
	v := validator.New(cfg)

	splits := models.Splits{
		Train: &models.Result{SharpeRatio: 2.0},
		Test:  &models.Result{SharpeRatio: 1.0},
	}
	if got := v.Classify(healthy(), splits, models.AbsentHealth()); got.Class != models.ClassValid {
		t.Errorf("expected valid under ratio 2.5, got %s", got.Class)
	}
}

func TestPropertySellTradesZeroIsInvalid(t *testing.T) {
	v := newValidator()
	prop := func(trades uint16, vol float64, costs int32) bool {
		r := models.Result{
			NumTrades:  int(trades) + 1,
			SellTrades: 0,
			Volatility: vol,
			TotalCosts: decimal.NewFromInt32(costs),
		}
		got := v.Classify(r, models.Splits{}, models.AbsentHealth())
		return got.Class == models.ClassInvalid && slices.Contains(got.Reasons, validator.ReasonZeroSellTrades)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestPropertyNoOverfitWithinRatio(t *testing.T) {
	v := newValidator()
	prop := func(test, frac float64) bool {
		test = math.Abs(math.Mod(test, 10))
		frac = math.Abs(math.Mod(frac, 1))
		if math.IsNaN(test) || math.IsNaN(frac) {
			return true
		}
		train := test * 1.3 * frac
		splits := models.Splits{
			Train: &models.Result{SharpeRatio: train},
			Test:  &models.Result{SharpeRatio: test},
		}
		return v.Classify(healthy(), splits, models.AbsentHealth()).Class != models.ClassOverfit
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestPropertyDeterministic(t *testing.T) {
	v := newValidator()
	prop := func(trades, sells uint8, vol, sharpeTrain, sharpeTest float64, costs int16, valid bool) bool {
		r := models.Result{
			NumTrades:  int(trades),
			SellTrades: int(sells),
			Volatility: vol,
			TotalCosts: decimal.NewFromInt(int64(costs)),
		}
		splits := models.Splits{
			Train: &models.Result{SharpeRatio: sharpeTrain},
			Test:  &models.Result{SharpeRatio: sharpeTest},
		}
		health := models.PresentHealth(models.EngineHealth{IsValid: valid})
		a := v.Classify(r, splits, health)
		b := v.Classify(r, splits, health)
		return a.Class == b.Class && slices.Equal(a.Reasons, b.Reasons)
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	trials := []models.Trial{
		{TrialNumber: 1, Result: models.Result{SharpeRatio: 0, Volatility: 0, NumTrades: 0}},
		{TrialNumber: 2, Result: healthy()},
		{TrialNumber: 3, Result: models.Result{NumTrades: 3}},
	}

	got := newValidator().ClassifyAll(trials)
	want := []models.Class{models.ClassValid, models.ClassValid, models.ClassInvalid}
	for i, ct := range got {
		if ct.Trial.TrialNumber != i+1 {
			t.Errorf("position %d holds trial %d", i, ct.Trial.TrialNumber)
		}
		if ct.Verdict.Class != want[i] {
			t.Errorf("trial %d: expected %s, got %s", i+1, want[i], ct.Verdict.Class)
		}
	}

	if validator.Promotable(got[2].Verdict) {
		t.Error("invalid trial must not be promotable")
	}
	if !validator.Promotable(models.Verdict{Class: models.ClassOverfit}) {
		t.Error("overfit trial stays promotable")
	}
}
