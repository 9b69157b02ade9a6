package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Env     string
	Port    string
	BaseURL string
}

type DBCfg struct{ DSN string }

type RedisCfg struct{ Addr string }

// MTNCfg holds MTN MoMo collection API credentials.
type MTNCfg struct {
	BaseURL         string
	SubscriptionKey string
	APIUser         string
	APIKey          string
	TargetEnv       string // "sandbox", "mtnuganda", "production"
	CallbackURL     string
}

// AirtelCfg holds Airtel Money merchant API credentials.
type AirtelCfg struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Country      string
	Currency     string
	CallbackURL  string
}

// WebhookCfg carries the optional webhook hardening knobs. Empty secret or
// allowlist disables the corresponding check.
type WebhookCfg struct {
	MTNSecret        string
	AirtelSecret     string
	MTNAllowedIPs    []string
	AirtelAllowedIPs []string
}

type SMSCfg struct {
	Username string
	APIKey   string
	SenderID string
}

type PaymentCfg struct {
	Currency  string
	MinAmount int64 // smallest accepted amount in UGX
	APIToken  string
}

type Cfg struct {
	App     AppCfg
	DB      DBCfg
	Redis   RedisCfg
	MTN     MTNCfg
	Airtel  AirtelCfg
	Webhook WebhookCfg
	SMS     SMSCfg
	Payment PaymentCfg
}

func Load() Cfg {
	// .env is optional; real deployments set process env directly.
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetDefault("APP_ENV", "sandbox")
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("MTN_MOMO_API_URL", "https://sandbox.momodeveloper.mtn.com")
	viper.SetDefault("MTN_MOMO_TARGET_ENV", "mtnuganda")
	viper.SetDefault("AIRTEL_MONEY_API_URL", "https://openapiuat.airtel.africa")
	viper.SetDefault("AIRTEL_MONEY_COUNTRY", "UG")
	viper.SetDefault("AIRTEL_MONEY_CURRENCY", "UGX")
	viper.SetDefault("PAYMENT_CURRENCY", "UGX")
	viper.SetDefault("PAYMENT_MIN_AMOUNT", 100)
	viper.SetDefault("AFRICAS_TALKING_USERNAME", "sandbox")
	viper.SetDefault("AFRICAS_TALKING_SENDER_ID", "SHOP")

	cfg := Cfg{
		App: AppCfg{
			Env:     viper.GetString("APP_ENV"),
			Port:    viper.GetString("APP_PORT"),
			BaseURL: viper.GetString("APP_BASE_URL"),
		},
		DB:    DBCfg{DSN: viper.GetString("DB_DSN")},
		Redis: RedisCfg{Addr: viper.GetString("REDIS_ADDR")},
		MTN: MTNCfg{
			BaseURL:         viper.GetString("MTN_MOMO_API_URL"),
			SubscriptionKey: viper.GetString("MTN_MOMO_SUBSCRIPTION_KEY"),
			APIUser:         viper.GetString("MTN_MOMO_API_USER"),
			APIKey:          viper.GetString("MTN_MOMO_API_KEY"),
			TargetEnv:       viper.GetString("MTN_MOMO_TARGET_ENV"),
			CallbackURL:     viper.GetString("MTN_MOMO_CALLBACK_URL"),
		},
		Airtel: AirtelCfg{
			BaseURL:      viper.GetString("AIRTEL_MONEY_API_URL"),
			ClientID:     viper.GetString("AIRTEL_MONEY_CLIENT_ID"),
			ClientSecret: viper.GetString("AIRTEL_MONEY_CLIENT_SECRET"),
			Country:      viper.GetString("AIRTEL_MONEY_COUNTRY"),
			Currency:     viper.GetString("AIRTEL_MONEY_CURRENCY"),
			CallbackURL:  viper.GetString("AIRTEL_MONEY_CALLBACK_URL"),
		},
		Webhook: WebhookCfg{
			MTNSecret:        viper.GetString("MTN_MOMO_WEBHOOK_SECRET"),
			AirtelSecret:     viper.GetString("AIRTEL_MONEY_WEBHOOK_SECRET"),
			MTNAllowedIPs:    splitList(viper.GetString("MTN_MOMO_ALLOWED_IPS")),
			AirtelAllowedIPs: splitList(viper.GetString("AIRTEL_MONEY_ALLOWED_IPS")),
		},
		SMS: SMSCfg{
			Username: viper.GetString("AFRICAS_TALKING_USERNAME"),
			APIKey:   viper.GetString("AFRICAS_TALKING_API_KEY"),
			SenderID: viper.GetString("AFRICAS_TALKING_SENDER_ID"),
		},
		Payment: PaymentCfg{
			Currency:  viper.GetString("PAYMENT_CURRENCY"),
			MinAmount: viper.GetInt64("PAYMENT_MIN_AMOUNT"),
			APIToken:  strings.TrimSpace(viper.GetString("API_TOKEN")),
		},
	}

	if cfg.DB.DSN == "" {
		log.Fatal().Msg("DB_DSN is required")
	}
	return cfg
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
