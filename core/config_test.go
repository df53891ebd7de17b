package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnv = []string{
	"ENV", "PLATFORM", "DISCORD_TOKEN", "DISCORD_GUILD_ID", "TELEGRAM_TOKEN",
	"REPLICATE_API_TOKEN", "REPLICATE_BASE_URL", "REQUEST_TIMEOUT", "NOTIFY_EMPTY_IMAGE",
}

// clearEnv unsets the config variables for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		value, _ := os.LookupEnv(key)
		t.Setenv(key, value)
		os.Unsetenv(key)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "discord-secret")
	t.Setenv("REPLICATE_API_TOKEN", "r8_secret")

	conf, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Platform != PlatformDiscord || conf.Env != "prod" {
		t.Fatalf("unexpected defaults %+v", conf)
	}
	if conf.Replicate.TextModel != "meta/meta-llama-3-70b-instruct" || conf.Replicate.ImageModel != "black-forest-labs/flux-schnell" {
		t.Fatalf("unexpected model defaults %+v", conf.Replicate)
	}
	if conf.Replicate.PollInterval != 500*time.Millisecond || conf.Replicate.RequestTimeout != 0 {
		t.Fatalf("unexpected timing defaults %+v", conf.Replicate)
	}
	if conf.NotifyEmptyImage {
		t.Fatal("expected empty image notification off by default")
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLICATE_API_TOKEN", "r8_from_env")

	path := filepath.Join(t.TempDir(), "config.yml")
	yml := "env: local\n" +
		"platform: telegram\n" +
		"telegram_token: tg-secret\n" +
		"replicate_api_token: r8_from_file\n" +
		"notify_empty_image: true\n" +
		"replicate:\n" +
		"  image_model: black-forest-labs/flux-dev\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Platform != PlatformTelegram || conf.TelegramToken != "tg-secret" || conf.Env != "local" {
		t.Fatalf("unexpected config %+v", conf)
	}
	if conf.ReplicateApiToken != "r8_from_env" {
		t.Fatalf("expected environment to override file, got %q", conf.ReplicateApiToken)
	}
	if conf.Replicate.ImageModel != "black-forest-labs/flux-dev" || conf.Replicate.TextModel != "meta/meta-llama-3-70b-instruct" {
		t.Fatalf("unexpected models %+v", conf.Replicate)
	}
	if !conf.NotifyEmptyImage {
		t.Fatal("expected empty image notification on")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{"discord ok", Config{Platform: PlatformDiscord, DiscordToken: "d", ReplicateApiToken: "r"}, false},
		{"telegram ok", Config{Platform: PlatformTelegram, TelegramToken: "t", ReplicateApiToken: "r"}, false},
		{"missing replicate", Config{Platform: PlatformDiscord, DiscordToken: "d"}, true},
		{"missing discord", Config{Platform: PlatformDiscord, TelegramToken: "t", ReplicateApiToken: "r"}, true},
		{"missing telegram", Config{Platform: PlatformTelegram, DiscordToken: "d", ReplicateApiToken: "r"}, true},
		{"unknown platform", Config{Platform: "irc", ReplicateApiToken: "r"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDescriptorInline(t *testing.T) {
	if !(Descriptor{URL: "data:image/png;base64,AAAA"}).Inline() {
		t.Fatal("expected data URL to be inline")
	}
	if (Descriptor{URL: "https://replicate.delivery/x.png"}).Inline() {
		t.Fatal("expected https URL to be remote")
	}
}

func TestReplyUnusable(t *testing.T) {
	if (Reply{Text: "a fox"}).Unusable() {
		t.Fatal("plain text should be usable")
	}
	for _, r := range []Reply{
		{},
		{Text: FailedGenerating},
		{Text: "ok", Err: os.ErrDeadlineExceeded},
	} {
		if !r.Unusable() {
			t.Fatalf("expected %+v to be unusable", r)
		}
	}
}
