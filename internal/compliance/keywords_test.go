package compliance

import "testing"

func TestIsStopKeyword(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"STOP", true},
		{"  stop \n", true},
		{"Unsubscribe", true},
		{"cancel", true},
		{"END", true},
		{"quit", true},
		{"opt-out", true},
		{"OptOut", true},
		{"remove", true},
		{"stop texting me", false},
		{"please stop", false},
		{"stopp", false},
		{"", false},
		{"yes", false},
	}

	for _, tt := range tests {
		if got := IsStopKeyword(tt.text); got != tt.want {
			t.Fatalf("IsStopKeyword(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDetectEmergency(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"I think there's a gas leak in the kitchen", EmergencyGasLeak},
		{"It smells of gas downstairs", EmergencyGasLeak},
		{"Our carbon monoxide alarm keeps going off", EmergencyCarbonMonoxide},
		{"Basement is flooding!!", EmergencyFlooding},
		{"burst pipe under the sink", EmergencyFlooding},
		{"Outlet is sparking", EmergencyElectrical},
		{"sewage backup in the tub", EmergencySewage},
		{"We have no heat and it's 20 degrees", EmergencyNoHeat},
		{"Looking for a quote on a new deck", ""},
		{"", ""},
	}

	for _, tt := range tests {
		got, ok := DetectEmergency(tt.text)
		if got != tt.want || ok != (tt.want != "") {
			t.Fatalf("DetectEmergency(%q) = (%q, %v), want %q", tt.text, got, ok, tt.want)
		}
	}
}
