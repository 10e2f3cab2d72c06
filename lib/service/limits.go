package service

import (
	"fmt"
	"os"
	"sync"

	"github.com/ziflex/lecho/v3"
	"gopkg.in/yaml.v3"
)

// LimitsConfig is the content of the limits file:
//
//	block-list:
//	  ip:
//	    - 192.168.1.1
type LimitsConfig struct {
	BlockList struct {
		IP []string `yaml:"ip"`
	} `yaml:"block-list"`
}

func LoadLimitsConfig(path string) (*LimitsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read limits file %s: %w", path, err)
	}
	config := &LimitsConfig{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("could not parse limits file %s: %w", path, err)
	}
	return config, nil
}

// Limits answers admission questions from the limits file. The file is read
// once, on first use.
type Limits struct {
	enabled bool
	path    string
	logger  *lecho.Logger

	once      sync.Once
	blockedIP map[string]struct{}
}

func NewLimits(enabled bool, path string, logger *lecho.Logger) *Limits {
	return &Limits{enabled: enabled, path: path, logger: logger}
}

func (l *Limits) load() {
	l.blockedIP = make(map[string]struct{})
	config, err := LoadLimitsConfig(l.path)
	if err != nil {
		l.logger.Errorf("Limits are enabled but could not be loaded: %v", err)
		return
	}
	for _, ip := range config.BlockList.IP {
		l.blockedIP[ip] = struct{}{}
	}
	l.logger.Infof("Loaded limits from %s: %d blocked IPs", l.path, len(l.blockedIP))
}

func (l *Limits) IsIPBlocked(ip string) bool {
	if l == nil || !l.enabled || ip == "" {
		return false
	}
	l.once.Do(l.load)
	if _, ok := l.blockedIP[ip]; ok {
		l.logger.Infof("IP blocked: %s", ip)
		return true
	}
	return false
}
