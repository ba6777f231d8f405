package services

import (
	"context"
	"math"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const (
	downPaymentRatio = 0.25
	mortgageRate     = 0.10
	mortgageYears    = 30
	expenseRatio     = 0.20
)

type yieldTable struct {
	casa, departamento, other float64
}

// baseYields are gross annual rental yields by city.
var baseYields = map[string]yieldTable{
	"Ciudad de México": {casa: 0.045, departamento: 0.055, other: 0.05},
	"Guadalajara":      {casa: 0.055, departamento: 0.065, other: 0.06},
	"Monterrey":        {casa: 0.050, departamento: 0.060, other: 0.055},
	"Playa del Carmen": {casa: 0.065, departamento: 0.075, other: 0.07},
	"Cancún":           {casa: 0.060, departamento: 0.070, other: 0.065},
}

var defaultYields = yieldTable{casa: 0.050, departamento: 0.060, other: 0.055}

var appreciationScenarios = []struct {
	name string
	rate float64
}{
	{"conservative", 0.04},
	{"moderate", 0.06},
	{"optimistic", 0.08},
}

var projectionYears = []int{1, 3, 5}

// InvestmentAnalysis loads a listing and estimates its rental returns.
func (i *Intelligence) InvestmentAnalysis(ctx context.Context, id string) (*models.InvestmentAnalysis, error) {
	l, err := i.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	return AnalyzeInvestment(l)
}

// AnalyzeInvestment estimates rent, appreciation and leveraged returns.
func AnalyzeInvestment(l *models.Listing) (*models.InvestmentAnalysis, error) {
	if l.PriceMXN == nil || *l.PriceMXN <= 0 {
		return nil, utils.NewError(utils.ErrInvalidInput, "no price data available")
	}
	price := *l.PriceMXN

	yield := EstimatedYield(l.City, l.PropertyType, price)
	annualRent := price * yield
	monthlyRent := annualRent / 12

	scenarios := make([]models.AppreciationScenario, 0, len(appreciationScenarios))
	for _, sc := range appreciationScenarios {
		projections := make([]models.ScenarioProjection, 0, len(projectionYears))
		for _, years := range projectionYears {
			value := price * math.Pow(1+sc.rate, float64(years))
			rental := annualRent * float64(years)
			total := rental + (value - price)
			projections = append(projections, models.ScenarioProjection{
				Years:         years,
				PropertyValue: round2(value),
				RentalIncome:  round2(rental),
				TotalReturn:   round2(total),
				ROIPct:        round2(total / price * 100),
			})
		}
		scenarios = append(scenarios, models.AppreciationScenario{
			Name:        sc.name,
			Rate:        sc.rate,
			Projections: projections,
		})
	}

	down := price * downPaymentRatio
	loan := price - down
	monthlyRate := mortgageRate / 12
	payment := loan * monthlyRate / (1 - math.Pow(1+monthlyRate, -float64(mortgageYears*12)))
	annualMortgage := payment * 12

	noi := annualRent * (1 - expenseRatio)
	capRate := noi / price * 100
	cashFlow := noi - annualMortgage
	coc := cashFlow / down * 100

	return &models.InvestmentAnalysis{
		ListingID:   l.ID,
		PriceMXN:    price,
		RentalYield: round2(yield * 100),
		MonthlyRent: round2(monthlyRent),
		AnnualRent:  round2(annualRent),
		Scenarios:   scenarios,
		Leverage: models.LeverageAnalysis{
			DownPayment:        round2(down),
			LoanAmount:         round2(loan),
			InterestRate:       mortgageRate,
			TermYears:          mortgageYears,
			MonthlyPayment:     round2(payment),
			AnnualMortgage:     round2(annualMortgage),
			NetOperatingIncome: round2(noi),
			AnnualCashFlow:     round2(cashFlow),
			CapRate:            round2(capRate),
			CashOnCashReturn:   round2(coc),
		},
		Grade:           InvestmentGrade(yield, capRate, coc),
		RiskFactors:     riskFactors(l, yield),
		Recommendations: investmentRecommendations(yield, capRate, coc),
	}, nil
}

// EstimatedYield is the city/type base yield adjusted by price band.
func EstimatedYield(city, propertyType string, price float64) float64 {
	table, ok := baseYields[city]
	if !ok {
		table = defaultYields
	}

	base := table.other
	switch propertyType {
	case models.TypeCasa:
		base = table.casa
	case models.TypeDepartamento:
		base = table.departamento
	}

	adjustment := 1.02
	switch {
	case price > 5_000_000:
		adjustment = 0.98
	case price > 3_000_000:
		adjustment = 1.0
	case price < 1_000_000:
		adjustment = 1.05
	}
	return base * adjustment
}

// InvestmentGrade scores yield (fractional), cap rate and cash-on-cash (%)
// into an A-D grade.
func InvestmentGrade(yield, capRate, coc float64) string {
	points := 0
	switch {
	case yield > 0.07:
		points += 3
	case yield > 0.055:
		points += 2
	case yield > 0.04:
		points++
	}
	switch {
	case capRate > 6:
		points += 2
	case capRate > 4:
		points++
	}
	switch {
	case coc > 10:
		points += 2
	case coc > 5:
		points++
	}

	switch {
	case points >= 6:
		return "A - Excelente"
	case points >= 4:
		return "B - Buena"
	case points >= 2:
		return "C - Moderada"
	default:
		return "D - Baja"
	}
}

func riskFactors(l *models.Listing, yield float64) []string {
	risks := []string{}
	if l.Colonia == "" {
		risks = append(risks, "Ubicación no especificada claramente")
	}
	if l.DataQualityScore < 0.7 {
		risks = append(risks, "Información incompleta de la propiedad")
	}
	switch {
	case yield > 0.08:
		risks = append(risks, "Rendimiento muy alto - posible zona de mayor riesgo")
	case yield < 0.04:
		risks = append(risks, "Rendimiento bajo - zona premium con menor cashflow")
	}
	if l.SizeM2 != nil && *l.SizeM2 < 50 {
		risks = append(risks, "Propiedad muy pequeña - mercado de renta limitado")
	}
	if l.Price() > 10_000_000 {
		risks = append(risks, "Precio muy alto - mercado limitado de compradores/inquilinos")
	}
	return risks
}

func investmentRecommendations(yield, capRate, coc float64) []string {
	var recs []string
	switch {
	case coc > 10:
		recs = append(recs, "Excelente oportunidad de flujo de efectivo positivo")
	case coc > 0:
		recs = append(recs, "Flujo de efectivo positivo con apalancamiento")
	default:
		recs = append(recs, "Considerar mayor enganche o renegociar precio")
	}
	switch {
	case capRate > 6:
		recs = append(recs, "Alto retorno sobre la inversión - verificar zona")
	case capRate < 3:
		recs = append(recs, "Zona premium - enfoque en apreciación a largo plazo")
	}
	if yield > 0.065 {
		recs = append(recs, "Alto potencial de renta - investigar demanda local")
	}
	return recs
}
