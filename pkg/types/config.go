package types

// ProviderID identifies a model provider.
type ProviderID string

const (
	ProviderOpenAI           ProviderID = "openai"
	ProviderAnthropic        ProviderID = "anthropic"
	ProviderGoogle           ProviderID = "google"
	ProviderOpenAICompatible ProviderID = "openai-compatible"
	ProviderArk              ProviderID = "ark"
)

// ProviderIDs lists providers in catalog order.
func ProviderIDs() []ProviderID {
	return []ProviderID{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGoogle,
		ProviderOpenAICompatible,
		ProviderArk,
	}
}

// Valid reports whether p is a known provider.
func (p ProviderID) Valid() bool {
	for _, id := range ProviderIDs() {
		if id == p {
			return true
		}
	}
	return false
}

// RuntimeSelection is a resolved provider/model pair.
type RuntimeSelection struct {
	Provider ProviderID `json:"provider"`
	Model    string     `json:"model"`
}

// CatalogProvider is one provider entry of the runtime catalog.
type CatalogProvider struct {
	ID     ProviderID `json:"id"`
	Models []string   `json:"models"`
}

// RuntimeCatalog lists the configured providers and models along with the
// default selection.
type RuntimeCatalog struct {
	Default   RuntimeSelection  `json:"default"`
	Providers []CatalogProvider `json:"providers"`
}

// Models returns the models configured for provider, or nil.
func (c RuntimeCatalog) Models(provider ProviderID) []string {
	for _, p := range c.Providers {
		if p.ID == provider {
			return p.Models
		}
	}
	return nil
}
