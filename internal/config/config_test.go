package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func ptr[T any](v T) *T { return &v }

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	home := t.TempDir()

	cfg, err := Load(LoadInput{WorkDirOverride: dir, Env: map[string]string{"HOME": home}})
	if err != nil {
		t.Fatalf("Load: err=%v, want nil", err)
	}

	want := Config{
		CacheRoot:          filepath.Join(home, ".cache", "kcache"),
		MaxCachedBinaries:  DefaultMaxCachedBinaries,
		AttemptUseBinaries: true,
		AttemptUseSource:   true,
		EffectiveCwd:       dir,
		CacheRootAbs:       filepath.Join(home, ".cache", "kcache"),
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Uses_Local_Cache_Dir_When_Home_Is_Unknown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := Load(LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.CacheRootAbs, filepath.Join(dir, ".kcache"); got != want {
		t.Fatalf("CacheRootAbs=%q, want %q", got, want)
	}
}

func Test_Load_Applies_Precedence_When_Every_Layer_Is_Set(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "kcache", "config.json"), `{
		// global
		"cache_root": "/global/cache",
		"max_cached_binaries": 10,
		"attempt_use_source": false,
		"platform": "Global Platform",
		"compiler": ["clc", "-o", "{out}", "{src}"],
	}`)
	writeFile(t, filepath.Join(dir, FileName), `{
		"max_cached_binaries": 20,
		"vendor": "acme",
	}`)

	cfg, err := Load(LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
		Overrides: Overrides{
			MaxCachedBinaries: ptr(-1),
			AttemptUseSource:  ptr(true),
		},
	})
	if err != nil {
		t.Fatalf("Load: err=%v, want nil", err)
	}

	want := Config{
		CacheRoot:          "/global/cache",
		MaxCachedBinaries:  -1,
		AttemptUseBinaries: true,
		AttemptUseSource:   true,
		Compiler:           []string{"clc", "-o", "{out}", "{src}"},
		Platform:           "Global Platform",
		Vendor:             "acme",
		CacheRootAbs:       "/global/cache",
		Sources: Sources{
			Global:  filepath.Join(xdg, "kcache", "config.json"),
			Project: filepath.Join(dir, FileName),
		},
	}

	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreFields(Config{}, "EffectiveCwd")); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Lets_Project_File_Disable_Flag_When_Global_Enables_It(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "kcache", "config.json"), `{"attempt_use_binaries": true}`)
	writeFile(t, filepath.Join(dir, FileName), `{"attempt_use_binaries": false}`)

	cfg, err := Load(LoadInput{WorkDirOverride: dir, Env: map[string]string{"XDG_CONFIG_HOME": xdg}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AttemptUseBinaries {
		t.Fatal("AttemptUseBinaries=true, want false from project file")
	}
}

func Test_Load_Uses_Explicit_File_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, FileName), `{"cache_root": "from-project"}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"cache_root": "from-explicit"}`)

	cfg, err := Load(LoadInput{WorkDirOverride: dir, ConfigPath: "custom.json", Env: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.CacheRootAbs, filepath.Join(dir, "from-explicit"); got != want {
		t.Fatalf("CacheRootAbs=%q, want %q", got, want)
	}

	if got, want := cfg.Sources.Project, filepath.Join(dir, "custom.json"); got != want {
		t.Fatalf("Sources.Project=%q, want %q", got, want)
	}
}

func Test_Load_Returns_Error_When_Config_Is_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		path    string
		want    error
	}{
		{name: "missing explicit file", path: "nope.json", want: ErrConfigFileNotFound},
		{name: "bad jsonc", content: `{"cache_root": }`, want: ErrConfigInvalid},
		{name: "unknown key", content: `{"cache_dir": "x"}`, want: ErrConfigInvalid},
		{name: "empty cache root", content: `{"cache_root": ""}`, want: ErrCacheRootEmpty},
		{name: "wrong type", content: `{"max_cached_binaries": "ten"}`, want: ErrConfigInvalid},
		{name: "compiler without out", content: `{"compiler": ["clc", "{src}"]}`, want: ErrCompilerTemplate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			if tc.content != "" {
				writeFile(t, filepath.Join(dir, FileName), tc.content)
			}

			_, err := Load(LoadInput{WorkDirOverride: dir, ConfigPath: tc.path, Env: map[string]string{}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Load: err=%v, want %v", err, tc.want)
			}
		})
	}
}
