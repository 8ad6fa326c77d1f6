package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	got := T(ctx, "EvaluationComplete")
	if got != "¡Felicidades! Has completado la evaluación." {
		t.Errorf("T(EvaluationComplete) = %q", got)
	}

	got = T(ctx, "AIOverloaded")
	if got != "El servicio de inteligencia artificial está saturado. Espera un momento e intenta de nuevo." {
		t.Errorf("T(AIOverloaded) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "EvaluationComplete")
	if got != "Congratulations! You have completed the evaluation." {
		t.Errorf("T(EvaluationComplete) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "es")

	got := Td(ctx, "EvaluationOffer", map[string]any{"Title": "Historia de México"})
	want := "Tengo disponible la evaluación \"Historia de México\". ¿Te gustaría comenzarla?"
	if got != want {
		t.Errorf("Td(EvaluationOffer) = %q, want %q", got, want)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "es")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestFallbackLocalizerWithoutContext(t *testing.T) {
	if err := Init("es"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	got := T(context.Background(), "SessionClosed")
	if got == "SessionClosed" || got == "" {
		t.Errorf("fallback localizer returned %q, want Spanish text", got)
	}
}
