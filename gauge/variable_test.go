package gauge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVariable(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Variable
		kind     Kind
		unit     Unit
		wantErr  bool
	}{
		{name: "full name", input: "discharge_daily_mean", expected: DischargeDailyMean, kind: KindDischarge, unit: UnitCubicMetersPerSecond},
		{name: "discharge alias", input: "discharge", expected: DischargeDailyMean, kind: KindDischarge, unit: UnitCubicMetersPerSecond},
		{name: "stage alias with spaces", input: "  Stage ", expected: StageDailyMean, kind: KindStage, unit: UnitMeters},
		{name: "dashes", input: "water-temperature-instant", expected: WaterTemperatureInstant, kind: KindWaterTemperature, unit: UnitDegreesCelsius},
		{name: "precipitation", input: "catchment_precipitation_daily_sum", expected: CatchmentPrecipitationDailySum, kind: KindCatchmentPrecipitation, unit: UnitMillimeters},
		{name: "unknown", input: "groundwater", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ParseVariable(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedVariable)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, v)
			assert.Equal(t, tc.kind, v.Kind())
			assert.Equal(t, tc.unit, v.Unit())
		})
	}
}

func TestVariableUnitsAreStable(t *testing.T) {
	for _, v := range AllVariables() {
		assert.True(t, v.IsKnown(), v.String())
		assert.NotEmpty(t, v.Unit(), v.String())
		assert.NotEmpty(t, v.Kind(), v.String())
	}

	assert.True(t, StageInstant.IsInstant())
	assert.False(t, StageDailyMean.IsInstant())
}
