package units

import (
	"math"
	"testing"
)

func TestConvertLength(t *testing.T) {
	tests := []struct {
		name     string
		metres   float64
		units    string
		expected float64
	}{
		{"1 m to mm", 1.0, MM, 1000},
		{"1 m to cm", 1.0, CM, 100},
		{"1 m to m", 1.0, M, 1.0},
		{"unknown units default to m", 0.25, "furlong", 0.25},
		{"standoff 5cm to mm", 0.05, MM, 50},
		{"0 m to mm", 0, MM, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertLength(tt.metres, tt.units)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ConvertLength(%f, %s) = %f, want %f", tt.metres, tt.units, result, tt.expected)
			}
			if back := ToMetres(result, tt.units); math.Abs(back-tt.metres) > 1e-12 {
				t.Errorf("ToMetres(%f, %s) = %f, want %f", result, tt.units, back, tt.metres)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"m", M, true},
		{"cm", CM, true},
		{"mm", MM, true},
		{"empty", "", false},
		{"upper case", "MM", false},
		{"speed unit", "mph", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "m, cm, mm" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestAngles(t *testing.T) {
	if got := DegToRad(180); math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("DegToRad(180) = %f", got)
	}
	if got := RadToDeg(-math.Pi / 2); math.Abs(got+90) > 1e-12 {
		t.Errorf("RadToDeg(-pi/2) = %f", got)
	}

	deg := []float64{-144, -190, 100, -90, -126, -90}
	back := RadiansToDegrees(DegreesToRadians(deg))
	for i := range deg {
		if math.Abs(back[i]-deg[i]) > 1e-9 {
			t.Errorf("round trip [%d] = %f, want %f", i, back[i], deg[i])
		}
	}
}
