package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sightline/internal/api"
	"sightline/internal/config"
)

type commandContext struct {
	apiFlag    *string
	tokenFlag  *string
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, tokenFlag, configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.requestedConfigPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// requestedConfigPath is the --config value; empty selects the default search.
func (c *commandContext) requestedConfigPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.API.Bind
	}
	return "127.0.0.1:7591"
}

func (c *commandContext) apiToken() string {
	if c.tokenFlag != nil && strings.TrimSpace(*c.tokenFlag) != "" {
		return strings.TrimSpace(*c.tokenFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.API.Token
	}
	return ""
}

func (c *commandContext) withClient(fn func(*api.Client) error) error {
	client := api.NewClient(c.apiAddress(), c.apiToken(), nil)
	return wrapClientError(fn(client), client.BaseURL())
}

func wrapClientError(err error, addr string) error {
	if err == nil {
		return nil
	}
	var respErr *api.ResponseError
	switch {
	case errors.Is(err, api.ErrDaemonUnavailable):
		return fmt.Errorf("connect to daemon at %s: not reachable; start it with `sightline daemon`", addr)
	case errors.As(err, &respErr) && respErr.StatusCode == 401:
		return fmt.Errorf("daemon rejected the API token; check api.token or --token")
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
