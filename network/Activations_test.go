package network

import "testing"

// TestActivationGobRoundTrip checks that activations survive gob
// serialization and that unknown payloads are rejected.
func TestActivationGobRoundTrip(t *testing.T) {
	for _, act := range []*Activation{ReLU(), Identity(), TanH()} {
		encoded, err := act.GobEncode()
		if err != nil {
			t.Fatal(err)
		}

		decoded := new(Activation)
		if err := decoded.GobDecode(encoded); err != nil {
			t.Fatal(err)
		}

		if decoded.String() != act.String() {
			t.Errorf("incorrect activation type \n\twant(%v)"+
				"\n\thave(%v)", act, decoded)
		}
		if decoded.IsIdentity() != act.IsIdentity() {
			t.Errorf("%v: identity flag lost in round trip", act)
		}
		if decoded.f == nil {
			t.Errorf("%v: forward function not restored", act)
		}
	}

	decoded := new(Activation)
	if err := decoded.GobDecode([]byte("swish")); err == nil {
		t.Error("unknown activation type should be rejected")
	}
}
