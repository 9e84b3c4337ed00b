package guard

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// GENERIC NOTICES
// ============================================================================
// The only user-facing copy the guard owns. Every line is deliberately
// non-diagnostic: a locked, refused, or denied user learns nothing about
// which check tripped or which field mismatched. Reply phrasing for
// normal turns belongs to the orchestrator.

// noticeSet holds the generic lines for one language
type noticeSet struct {
	Locked       string `yaml:"locked"`
	Refusal      string `yaml:"refusal"`
	VerifyDenied string `yaml:"verify_denied"`
	PIIAdvisory  string `yaml:"pii_advisory"`
}

var builtinNotices = map[string]noticeSet{
	"en": {
		Locked:       "This conversation is temporarily unavailable. Please contact support if you need assistance.",
		Refusal:      "Sorry, I can't help with that request.",
		VerifyDenied: "We couldn't verify those details. Please contact support.",
		PIIAdvisory:  "For your security, please avoid sharing personal or payment details in this chat.",
	},
	"es": {
		Locked:       "Esta conversación no está disponible temporalmente. Contacta con soporte si necesitas ayuda.",
		Refusal:      "Lo siento, no puedo ayudar con esa solicitud.",
		VerifyDenied: "No pudimos verificar esos datos. Contacta con soporte.",
		PIIAdvisory:  "Por tu seguridad, evita compartir datos personales o de pago en este chat.",
	},
	"de": {
		Locked:       "Diese Unterhaltung ist vorübergehend nicht verfügbar. Bitte wende dich an den Support.",
		Refusal:      "Entschuldigung, dabei kann ich nicht helfen.",
		VerifyDenied: "Wir konnten diese Angaben nicht bestätigen. Bitte wende dich an den Support.",
		PIIAdvisory:  "Bitte teile aus Sicherheitsgründen keine persönlichen oder Zahlungsdaten in diesem Chat.",
	},
	"fr": {
		Locked:       "Cette conversation est temporairement indisponible. Veuillez contacter le support si besoin.",
		Refusal:      "Désolé, je ne peux pas répondre à cette demande.",
		VerifyDenied: "Nous n'avons pas pu vérifier ces informations. Veuillez contacter le support.",
		PIIAdvisory:  "Pour votre sécurité, évitez de partager des informations personnelles ou bancaires dans ce chat.",
	},
	"pt": {
		Locked:       "Esta conversa está temporariamente indisponível. Entre em contato com o suporte se precisar de ajuda.",
		Refusal:      "Desculpe, não posso ajudar com esse pedido.",
		VerifyDenied: "Não foi possível verificar esses dados. Entre em contato com o suporte.",
		PIIAdvisory:  "Para sua segurança, evite compartilhar dados pessoais ou de pagamento neste chat.",
	},
}

// Notices resolves the guard's generic lines per language, with an
// optional YAML override file on top of the built-in set
type Notices struct {
	mu       sync.RWMutex
	byLang   map[string]noticeSet
	fallback string
}

// NewNotices creates the notice resolver. fallback is the language used
// when a turn's language has no entry.
func NewNotices(fallback string) *Notices {
	byLang := make(map[string]noticeSet, len(builtinNotices))
	for lang, set := range builtinNotices {
		byLang[lang] = set
	}

	fallback = normalizeLang(fallback)
	if _, ok := byLang[fallback]; !ok {
		fallback = "en"
	}
	return &Notices{byLang: byLang, fallback: fallback}
}

// LoadFile merges a YAML override file into the notice set. Only
// non-empty fields override; a new language starts from the fallback's
// lines so every field resolves.
func (n *Notices) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read notices file: %w", err)
	}

	var overrides map[string]noticeSet
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse notices file %s: %w", path, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for lang, over := range overrides {
		lang = normalizeLang(lang)
		base, ok := n.byLang[lang]
		if !ok {
			base = n.byLang[n.fallback]
		}
		if over.Locked != "" {
			base.Locked = over.Locked
		}
		if over.Refusal != "" {
			base.Refusal = over.Refusal
		}
		if over.VerifyDenied != "" {
			base.VerifyDenied = over.VerifyDenied
		}
		if over.PIIAdvisory != "" {
			base.PIIAdvisory = over.PIIAdvisory
		}
		n.byLang[lang] = base
	}
	return nil
}

// Locked returns the generic lock notice for lang
func (n *Notices) Locked(lang string) string {
	return n.get(lang).Locked
}

// Refusal returns the generic soft-refusal line for lang
func (n *Notices) Refusal(lang string) string {
	return n.get(lang).Refusal
}

// VerifyDenied returns the generic verification denial for lang
func (n *Notices) VerifyDenied(lang string) string {
	return n.get(lang).VerifyDenied
}

// PIIAdvisory returns the advisory line appended when a user discloses
// unmasked PII
func (n *Notices) PIIAdvisory(lang string) string {
	return n.get(lang).PIIAdvisory
}

func (n *Notices) get(lang string) noticeSet {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if set, ok := n.byLang[normalizeLang(lang)]; ok {
		return set
	}
	return n.byLang[n.fallback]
}

// normalizeLang lowercases and strips region subtags, "pt-BR" -> "pt"
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
