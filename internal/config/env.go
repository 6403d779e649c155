package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Env resolves environment values at call time. The process environment wins;
// an optional .env file is consulted as a fallback and re-read on every
// lookup so that credentials added mid-session are picked up. Env never
// modifies the process environment.
type Env struct {
	// File is an optional dotenv file path.
	File string
	// LookupFunc replaces os.LookupEnv, mainly for tests.
	LookupFunc func(key string) (string, bool)
}

// NewEnv returns an Env backed by the process environment and file.
func NewEnv(file string) *Env {
	return &Env{File: file}
}

// Lookup returns the non-empty value of key, if any.
func (e *Env) Lookup(key string) (string, bool) {
	lookup := os.LookupEnv
	if e != nil && e.LookupFunc != nil {
		lookup = e.LookupFunc
	}
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if e == nil || e.File == "" {
		return "", false
	}
	values, err := godotenv.Read(e.File)
	if err != nil {
		return "", false
	}
	if v := strings.TrimSpace(values[key]); v != "" {
		return v, true
	}
	return "", false
}

// Get returns the value of key or an empty string.
func (e *Env) Get(key string) string {
	v, _ := e.Lookup(key)
	return v
}

// First returns the first key among keys with a non-empty value.
func (e *Env) First(keys ...string) (key, value string, ok bool) {
	for _, k := range keys {
		if v, found := e.Lookup(k); found {
			return k, v, true
		}
	}
	return "", "", false
}
