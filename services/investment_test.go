package services

import (
	"context"
	"math"
	"testing"

	"polpi-mx/models"
	"polpi-mx/utils"
)

func TestEstimatedYield(t *testing.T) {
	tests := []struct {
		city, propertyType string
		price              float64
		want               float64
	}{
		{CanonicalCDMX, models.TypeDepartamento, 2e6, 0.055 * 1.02},
		{"Guadalajara", models.TypeCasa, 6e6, 0.055 * 0.98},
		{"Cancún", models.TypeDepartamento, 4e6, 0.070},
		{"Tijuana", models.TypeTerreno, 5e5, 0.055 * 1.05},
	}
	for _, tt := range tests {
		got := EstimatedYield(tt.city, tt.propertyType, tt.price)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("EstimatedYield(%s, %s, %.0f) = %v; want %v", tt.city, tt.propertyType, tt.price, got, tt.want)
		}
	}
}

func TestInvestmentGrade(t *testing.T) {
	tests := []struct {
		yield, capRate, coc float64
		want                string
	}{
		{0.08, 7, 12, "A - Excelente"},
		{0.06, 5, 6, "B - Buena"},
		{0.05, 4.5, 0, "C - Moderada"},
		{0.045, 3, -5, "D - Baja"},
	}
	for _, tt := range tests {
		if got := InvestmentGrade(tt.yield, tt.capRate, tt.coc); got != tt.want {
			t.Errorf("InvestmentGrade(%v, %v, %v) = %q; want %q", tt.yield, tt.capRate, tt.coc, got, tt.want)
		}
	}
}

func TestAnalyzeInvestment(t *testing.T) {
	l := listing("inv", 2e6, 100)

	a, err := AnalyzeInvestment(l)
	if err != nil {
		t.Fatalf("AnalyzeInvestment: %v", err)
	}

	if a.RentalYield != 5.61 {
		t.Errorf("RentalYield = %v; want 5.61", a.RentalYield)
	}
	if a.AnnualRent != 112200 || a.MonthlyRent != 9350 {
		t.Errorf("rent = %v / %v", a.AnnualRent, a.MonthlyRent)
	}
	if len(a.Scenarios) != 3 || len(a.Scenarios[0].Projections) != 3 {
		t.Fatalf("unexpected scenarios: %+v", a.Scenarios)
	}

	first := a.Scenarios[0].Projections[0]
	if a.Scenarios[0].Name != "conservative" || first.Years != 1 {
		t.Errorf("first projection = %s/%d", a.Scenarios[0].Name, first.Years)
	}
	if first.PropertyValue != 2080000 || first.TotalReturn != 192200 || first.ROIPct != 9.61 {
		t.Errorf("1y conservative = %+v", first)
	}

	lev := a.Leverage
	if lev.DownPayment != 500000 || lev.LoanAmount != 1500000 {
		t.Errorf("leverage = %+v", lev)
	}
	if lev.MonthlyPayment < 13100 || lev.MonthlyPayment > 13200 {
		t.Errorf("MonthlyPayment = %v", lev.MonthlyPayment)
	}
	if lev.CashOnCashReturn >= 0 {
		t.Errorf("CashOnCashReturn should be negative at 10%% mortgage, got %v", lev.CashOnCashReturn)
	}

	if a.Grade != "C - Moderada" {
		t.Errorf("Grade = %q", a.Grade)
	}
	if len(a.RiskFactors) != 1 || a.RiskFactors[0] != "Información incompleta de la propiedad" {
		t.Errorf("RiskFactors = %v", a.RiskFactors)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0] != "Considerar mayor enganche o renegociar precio" {
		t.Errorf("Recommendations = %v", a.Recommendations)
	}
}

func TestInvestmentAnalysisErrors(t *testing.T) {
	store := newFakeStore()
	store.listings["noprice"] = &models.Listing{ID: "noprice"}
	intel := NewIntelligence(store, newTestLogger())

	_, err := intel.InvestmentAnalysis(context.Background(), "noprice")
	if !utils.IsKind(err, utils.ErrInvalidInput) {
		t.Errorf("expected invalid_input, got %v", err)
	}

	_, err = intel.InvestmentAnalysis(context.Background(), "missing")
	if !utils.IsKind(err, utils.ErrNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestRiskFactorsSize(t *testing.T) {
	const small = "Propiedad muy pequeña - mercado de renta limitado"
	has := func(risks []string) bool {
		for _, r := range risks {
			if r == small {
				return true
			}
		}
		return false
	}

	unknown := listing("a", 3e6, 0)
	unknown.SizeM2 = nil
	if has(riskFactors(unknown, 0.06)) {
		t.Error("unknown size should not be flagged as small")
	}
	if !has(riskFactors(listing("b", 3e6, 40), 0.06)) {
		t.Error("40 m² should be flagged as small")
	}
	if has(riskFactors(listing("c", 3e6, 90), 0.06)) {
		t.Error("90 m² should not be flagged as small")
	}
}
