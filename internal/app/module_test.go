package app

import (
	"testing"

	"go.uber.org/fx"
)

func TestModuleGraphIsComplete(t *testing.T) {
	// Validates the dependency graph without invoking any provider, so
	// no lock, store or terminal is touched.
	if err := fx.ValidateApp(Module(Params{ProfileName: "validate"})); err != nil {
		t.Fatalf("fx.ValidateApp() error = %v", err)
	}
}

func TestProvideSelf(t *testing.T) {
	self := provideSelf(Params{ProfileName: "work"})
	if self.AuthorID != "self:work" {
		t.Errorf("AuthorID = %q, want %q", self.AuthorID, "self:work")
	}
	if self.DisplayName != "work" {
		t.Errorf("DisplayName = %q, want %q", self.DisplayName, "work")
	}
}
