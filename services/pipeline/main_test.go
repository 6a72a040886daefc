package main

import "testing"

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"-start", "2024-01-01", "-end", "2024-01-31", "-force"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.start != "2024-01-01" || f.end != "2024-01-31" || !f.force {
		t.Fatalf("flags = %+v", f)
	}

	for _, args := range [][]string{
		{"-schedule", "-start", "2024-01-01"},
		{"extra"},
		{"-unknown"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%v) succeeded", args)
		}
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"APP_ENV", "LOG_LEVEL", "LOCATIONS_FILE", "RUN_REPORT_S3_BUCKET", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_IDS"} {
		t.Setenv(k, "")
	}
}

func TestRun_ArgumentAndConfigErrorsExitTwo(t *testing.T) {
	clearEnv(t)
	if code := run([]string{"-nope"}); code != 2 {
		t.Fatalf("bad flag exit = %d", code)
	}

	t.Setenv("DATABASE_URL", "")
	if code := run(nil); code != 2 {
		t.Fatalf("missing DATABASE_URL exit = %d", code)
	}

	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	if code := run([]string{"-start", "2024-02-01", "-end", "2024-01-01"}); code != 2 {
		t.Fatalf("reversed range exit = %d", code)
	}
}

func TestRun_MigrateOnSQLite(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATABASE_URL", "sqlite://"+t.TempDir()+"/uhd.db")
	if code := run([]string{"-migrate"}); code != 0 {
		t.Fatalf("migrate exit = %d", code)
	}
}
