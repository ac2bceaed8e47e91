/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDatabase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Database Suite")
}

var _ = Describe("Config", func() {
	Describe("DefaultConfig", func() {
		It("returns the local development defaults", func() {
			cfg := DefaultConfig()

			Expect(cfg.Host).To(Equal("localhost"))
			Expect(cfg.Port).To(Equal(5432))
			Expect(cfg.User).To(Equal("knhk"))
			Expect(cfg.Database).To(Equal("knhk_kernel"))
			Expect(cfg.SSLMode).To(Equal("disable"))
			Expect(cfg.MaxOpenConns).To(Equal(25))
			Expect(cfg.MaxIdleConns).To(Equal(5))
			Expect(cfg.ConnMaxLifetime).To(Equal(5 * time.Minute))
			Expect(cfg.ConnMaxIdleTime).To(Equal(5 * time.Minute))
		})
	})

	Describe("LoadFromEnv", func() {
		var cfg *Config
		var saved map[string]string

		BeforeEach(func() {
			cfg = DefaultConfig()
			saved = map[string]string{}
			for _, key := range []string{"KNHK_DB_HOST", "KNHK_DB_PORT", "KNHK_DB_USER", "KNHK_DB_PASSWORD", "KNHK_DB_NAME", "KNHK_DB_SSL_MODE"} {
				saved[key] = os.Getenv(key)
			}
		})

		AfterEach(func() {
			for key, value := range saved {
				if value == "" {
					os.Unsetenv(key)
				} else {
					os.Setenv(key, value)
				}
			}
		})

		Context("when every variable is set", func() {
			BeforeEach(func() {
				os.Setenv("KNHK_DB_HOST", "testhost")
				os.Setenv("KNHK_DB_PORT", "3306")
				os.Setenv("KNHK_DB_USER", "testuser")
				os.Setenv("KNHK_DB_PASSWORD", "testpass")
				os.Setenv("KNHK_DB_NAME", "testdb")
				os.Setenv("KNHK_DB_SSL_MODE", "require")
			})

			It("overlays every field", func() {
				cfg.LoadFromEnv()

				Expect(cfg.Host).To(Equal("testhost"))
				Expect(cfg.Port).To(Equal(3306))
				Expect(cfg.User).To(Equal("testuser"))
				Expect(cfg.Password).To(Equal("testpass"))
				Expect(cfg.Database).To(Equal("testdb"))
				Expect(cfg.SSLMode).To(Equal("require"))
			})
		})

		Context("when KNHK_DB_PORT is not a number", func() {
			BeforeEach(func() {
				os.Setenv("KNHK_DB_PORT", "not-a-port")
			})

			It("keeps the existing port", func() {
				original := cfg.Port
				cfg.LoadFromEnv()
				Expect(cfg.Port).To(Equal(original))
			})
		})

		Context("when nothing is set", func() {
			It("leaves the config unchanged", func() {
				before := *cfg
				cfg.LoadFromEnv()
				Expect(*cfg).To(Equal(before))
			})
		})
	})

	Describe("Validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = DefaultConfig()
		})

		It("passes for the default config", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("rejects an empty host", func() {
			cfg.Host = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("database host is required")))
		})

		It("rejects a zero port", func() {
			cfg.Port = 0
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("database port must be between 1 and 65535")))
		})

		It("rejects a port above 65535", func() {
			cfg.Port = 70000
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("database port must be between 1 and 65535")))
		})

		It("rejects an empty user", func() {
			cfg.User = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("database user is required")))
		})

		It("rejects an empty database name", func() {
			cfg.Database = ""
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("database name is required")))
		})

		It("rejects a non-positive MaxOpenConns", func() {
			cfg.MaxOpenConns = 0
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("max open connections must be greater than 0")))
		})

		It("rejects a negative MaxIdleConns", func() {
			cfg.MaxIdleConns = -1
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("max idle connections must be non-negative")))
		})
	})

	Describe("ConnectionString", func() {
		It("includes the password when one is set", func() {
			cfg := &Config{Host: "localhost", Port: 5432, User: "testuser", Database: "testdb", SSLMode: "disable", Password: "testpass"}
			Expect(cfg.ConnectionString()).To(Equal("host=localhost port=5432 user=testuser dbname=testdb sslmode=disable password=testpass"))
		})

		It("omits the password when none is set", func() {
			cfg := &Config{Host: "localhost", Port: 5432, User: "testuser", Database: "testdb", SSLMode: "disable"}
			result := cfg.ConnectionString()
			Expect(result).To(Equal("host=localhost port=5432 user=testuser dbname=testdb sslmode=disable"))
			Expect(result).NotTo(ContainSubstring("password="))
		})
	})

	Describe("Connect", func() {
		It("rejects an invalid configuration before ever dialing", func() {
			cfg := &Config{Host: "", Port: 5432, User: "testuser"}
			_, err := Connect(cfg, logr.Discard())
			Expect(err).To(MatchError(ContainSubstring("invalid database configuration")))
		})
	})
})
