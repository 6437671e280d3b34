package gauge

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindDischarge              Kind = "discharge"
	KindStage                  Kind = "stage"
	KindWaterTemperature       Kind = "water_temperature"
	KindCatchmentPrecipitation Kind = "catchment_precipitation"
)

type Unit string

const (
	UnitCubicMetersPerSecond Unit = "m3/s"
	UnitMeters               Unit = "m"
	UnitDegreesCelsius       Unit = "°C"
	UnitMillimeters          Unit = "mm"
)

type Variable string

const (
	DischargeDailyMean             Variable = "discharge_daily_mean"
	DischargeMonthlyMean           Variable = "discharge_monthly_mean"
	DischargeInstant               Variable = "discharge_instant"
	StageDailyMean                 Variable = "stage_daily_mean"
	StageInstant                   Variable = "stage_instant"
	WaterTemperatureDailyMean      Variable = "water_temperature_daily_mean"
	WaterTemperatureInstant        Variable = "water_temperature_instant"
	CatchmentPrecipitationDailySum Variable = "catchment_precipitation_daily_sum"
)

type variableInfo struct {
	kind    Kind
	unit    Unit
	instant bool
}

var variables = map[Variable]variableInfo{
	DischargeDailyMean:             {kind: KindDischarge, unit: UnitCubicMetersPerSecond},
	DischargeMonthlyMean:           {kind: KindDischarge, unit: UnitCubicMetersPerSecond},
	DischargeInstant:               {kind: KindDischarge, unit: UnitCubicMetersPerSecond, instant: true},
	StageDailyMean:                 {kind: KindStage, unit: UnitMeters},
	StageInstant:                   {kind: KindStage, unit: UnitMeters, instant: true},
	WaterTemperatureDailyMean:      {kind: KindWaterTemperature, unit: UnitDegreesCelsius},
	WaterTemperatureInstant:        {kind: KindWaterTemperature, unit: UnitDegreesCelsius, instant: true},
	CatchmentPrecipitationDailySum: {kind: KindCatchmentPrecipitation, unit: UnitMillimeters},
}

var variableAliases = map[string]Variable{
	"discharge":         DischargeDailyMean,
	"stage":             StageDailyMean,
	"water_temperature": WaterTemperatureDailyMean,
	"precipitation":     CatchmentPrecipitationDailySum,
}

// AllVariables lists the known variables in a stable order.
func AllVariables() []Variable {
	return []Variable{
		DischargeDailyMean,
		DischargeMonthlyMean,
		DischargeInstant,
		StageDailyMean,
		StageInstant,
		WaterTemperatureDailyMean,
		WaterTemperatureInstant,
		CatchmentPrecipitationDailySum,
	}
}

// ParseVariable accepts a variable name or one of the short kind aliases.
// Dashes are treated like underscores.
func ParseVariable(s string) (Variable, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if v, ok := variableAliases[name]; ok {
		return v, nil
	}

	v := Variable(name)
	if !v.IsKnown() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVariable, s)
	}

	return v, nil
}

func (v Variable) IsKnown() bool {
	_, ok := variables[v]
	return ok
}

func (v Variable) Kind() Kind {
	return variables[v].kind
}

func (v Variable) Unit() Unit {
	return variables[v].unit
}

func (v Variable) IsInstant() bool {
	return variables[v].instant
}

func (v Variable) String() string {
	return string(v)
}

// Supports reports whether v is one of the given variables.
func Supports(supported []Variable, v Variable) bool {
	for _, candidate := range supported {
		if candidate == v {
			return true
		}
	}

	return false
}
