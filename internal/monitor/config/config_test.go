// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestPostgresEnv(t *testing.T) {
	vars := []struct{ name, value string }{
		{"DB_HOST", "host"},
		{"DB_USER", "user"},
		{"DB_PASSWD", "passwd"},
		{"DB_NAME", "name"},
		{"DB_SSLMODE", "disable"},
		{"DB_CONN_TIMEOUT", "30"},
		{"DB_MAX_IDLE_CONNS", "1"},
		{"DB_MAX_OPEN_CONNS", "2"},
	}
	for _, v := range vars {
		t.Setenv(v.name, "")
	}

	// Each missing variable is reported by name, in order.
	for _, v := range vars {
		_, err := PostgresEnv()
		if err == nil {
			t.Fatalf("expected error for unset %s", v.name)
		}
		if !strings.HasPrefix(err.Error(), v.name) {
			t.Errorf("expected error starting with %s got: %s", v.name, err.Error())
		}
		t.Setenv(v.name, v.value)
	}

	p, err := PostgresEnv()
	if err != nil {
		t.Fatalf("unexpected error %s", err)
	}
	want := "host=host connect_timeout=30 user=user password=passwd dbname=name sslmode=disable"
	if p.Connection() != want {
		t.Errorf("expected %s got %s", want, p.Connection())
	}
	if p.MaxIdle != 1 || p.MaxOpen != 2 {
		t.Errorf("expected idle=1 open=2 got idle=%d open=%d", p.MaxIdle, p.MaxOpen)
	}

	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	if _, err := PostgresEnv(); err == nil || !strings.HasPrefix(err.Error(), "DB_MAX_OPEN_CONNS") {
		t.Errorf("expected DB_MAX_OPEN_CONNS parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	in := []struct {
		id     string
		mutate func(*Config)
	}{
		{l(), func(c *Config) { c.Settle = 0 }},
		{l(), func(c *Config) { c.MaxQueued = 1 }},
		{l(), func(c *Config) { c.MatchWindow = -time.Second }},
		{l(), func(c *Config) { c.RetentionDays = -1 }},
		{l(), func(c *Config) { c.DrainInterval = 0 }},
		{l(), func(c *Config) { c.RetryTimeout = time.Second; c.RetryInterval = 2 * time.Second }},
		{l(), func(c *Config) { c.Store = "cassandra" }},
		{l(), func(c *Config) { c.Store = "sqlite"; c.SQLitePath = "" }},
	}
	for _, v := range in {
		c := Default()
		v.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s expected validation error", v.id)
		}
	}
}

func TestWorkerAndConsumerViews(t *testing.T) {
	c := Default()
	c.IgnoreInvalidAddress = true
	c.OmitCodes = "W"
	w := c.Worker()
	if w.Settle != c.Settle || !w.IgnoreInvalidAddress || w.RetentionDays != c.RetentionDays {
		t.Errorf("worker view mismatch: %+v", w)
	}
	cc := c.Consumer()
	if cc.OmitCodes != "W" || cc.RetryTimeout != c.RetryTimeout {
		t.Errorf("consumer view mismatch: %+v", cc)
	}
}

// l returns the calling line, used to label table cases.
func l() (loc string) {
	_, _, l, _ := runtime.Caller(1)
	return "L" + strconv.Itoa(l)
}
