// Package config handles loading and validation of the agent's
// configuration file.
package config

// Config holds everything the daemon needs to run. Secrets are usually
// pulled in through ${VAR} references resolved at load time.
type Config struct {
	Twitter  TwitterConfig   `json:"twitter"`
	Groq     GroqConfig      `json:"groq"`
	Wallet   WalletConfig    `json:"wallet"`
	Payment  PaymentConfig   `json:"payment"`
	Networks []NetworkConfig `json:"networks,omitempty"`
	State    StateConfig     `json:"state"`
	Web      WebConfig       `json:"web"`
}

type TwitterConfig struct {
	BearerToken string `json:"bearerToken"`
	BotUserID   string `json:"botUserID"`
	PollSeconds int    `json:"pollSeconds,omitempty"`
	IgnoreFile  string `json:"ignoreFile,omitempty"`
}

type GroqConfig struct {
	APIKey  string `json:"apiKey"`
	Model   string `json:"model,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

type WalletConfig struct {
	Address string `json:"address"`
}

type PaymentConfig struct {
	StalenessMinutes     int `json:"stalenessMinutes,omitempty"`
	LookupTimeoutSeconds int `json:"lookupTimeoutSeconds,omitempty"`
}

// NetworkConfig describes one blockchain explorer to query for payment
// transactions. Order in the config is the order of lookup.
type NetworkConfig struct {
	Name          string `json:"name"`
	ExplorerURL   string `json:"explorerURL"`
	APIKey        string `json:"apiKey,omitempty"`
	TokenContract string `json:"tokenContract"`
	TokenDecimals int    `json:"tokenDecimals,omitempty"`
}

type StateConfig struct {
	Dir    string `json:"dir,omitempty"`
	JobsDB string `json:"jobsDB,omitempty"`
}

type WebConfig struct {
	Enabled  *bool `json:"enabled,omitempty"`
	BasePort int   `json:"basePort,omitempty"`
}

// WebEnabled reports whether the dashboard should be served. Defaults on.
func (c *Config) WebEnabled() bool {
	if c.Web.Enabled == nil {
		return true
	}
	return *c.Web.Enabled
}
