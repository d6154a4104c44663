package models

import "strconv"

// Account: параметры подключения к терминалу одного счёта.
type Account struct {
	Login    int64  `yaml:"login"`
	Password string `yaml:"password"`
	Server   string `yaml:"server"`
	Path     string `yaml:"mt5_path"` // путь к terminal64.exe на стороне бриджа
	Endpoint string `yaml:"endpoint"` // ws://host:port/ws бриджа
}

func (a Account) ID() string { return strconv.FormatInt(a.Login, 10) }

// SlaveAccount: счёт-получатель с бюджетом риска и необязательными оверрайдами.
type SlaveAccount struct {
	Account `yaml:",inline"`

	RiskUSD float64 `yaml:"risk_usd"`

	// Symbols: символ мастера -> символ у брокера slave (EURUSD -> EURUSD.r)
	Symbols     map[string]string `yaml:"symbols"`
	FixedVolume float64           `yaml:"fixed_volume"`
	MaxVolume   float64           `yaml:"max_volume"`
}

func (s SlaveAccount) Symbol(master string) string {
	if v, ok := s.Symbols[master]; ok && v != "" {
		return v
	}
	return master
}
