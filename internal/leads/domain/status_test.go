package domain

import "testing"

func TestValidateTransitionForwardPath(t *testing.T) {
	steps := []struct {
		from, to Status
	}{
		{StatusNew, StatusContacted},
		{StatusContacted, StatusQualified},
		{StatusQualified, StatusConverted},
	}
	for _, step := range steps {
		if err := ValidateTransition(step.from, step.to); err != nil {
			t.Fatalf("expected %s -> %s to be valid: %v", step.from, step.to, err)
		}
	}
}

func TestValidateTransitionDisqualify(t *testing.T) {
	for _, from := range []Status{StatusNew, StatusContacted, StatusQualified} {
		if err := ValidateTransition(from, StatusUnqualified); err != nil {
			t.Fatalf("expected %s -> Unqualified to be valid: %v", from, err)
		}
	}
}

func TestValidateTransitionTerminal(t *testing.T) {
	if err := ValidateTransition(StatusConverted, StatusNew); err == nil {
		t.Fatal("expected transition out of Converted to fail")
	}
	if err := ValidateTransition(StatusUnqualified, StatusContacted); err == nil {
		t.Fatal("expected transition out of Unqualified to fail")
	}
}

func TestValidateTransitionSkipsStage(t *testing.T) {
	if err := ValidateTransition(StatusNew, StatusQualified); err == nil {
		t.Fatal("expected New -> Qualified to fail")
	}
	if err := ValidateTransition(StatusNew, StatusConverted); err == nil {
		t.Fatal("expected New -> Converted to fail")
	}
}

func TestValidateTransitionSameStatus(t *testing.T) {
	if err := ValidateTransition(StatusConverted, StatusConverted); err != nil {
		t.Fatalf("same-status write should be a no-op: %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("Qualified"); err != nil {
		t.Fatalf("expected Qualified to parse: %v", err)
	}
	if _, err := ParseStatus("Archived"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StatusConverted) || !IsTerminal(StatusUnqualified) {
		t.Fatal("Converted and Unqualified must be terminal")
	}
	if IsTerminal(StatusQualified) {
		t.Fatal("Qualified must not be terminal")
	}
}
