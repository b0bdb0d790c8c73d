package ble

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// ScanConfig holds configuration for device scanning. The core pipeline
// holds no retry logic; reconnection policy lives entirely here.
type ScanConfig struct {
	// ScanInterval is how often to check for a lost connection (default 2s)
	ScanInterval time.Duration
	// AutoReconnect enables automatic reconnection on disconnect
	AutoReconnect bool
}

// DefaultScanConfig returns sensible defaults for scanning.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		ScanInterval:  2 * time.Second,
		AutoReconnect: true,
	}
}

// Scanner manages continuous scanning and reconnection for the sensor.
type Scanner struct {
	central *Central
	config  ScanConfig
	running bool
	stop    chan struct{}
}

// NewScanner creates a new Scanner with the given Central and config.
func NewScanner(central *Central, config ScanConfig) *Scanner {
	return &Scanner{
		central: central,
		config:  config,
		stop:    make(chan struct{}),
	}
}

// Start begins the scanning loop. It continuously scans for the sensor and
// attempts to connect; with AutoReconnect it restarts scanning when the
// sensor disconnects.
func (s *Scanner) Start() {
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	if s.config.AutoReconnect {
		s.central.SetDisconnectHandler(s.onDisconnect)
	}

	go s.scanLoop()
}

// onDisconnect triggers an immediate scan attempt instead of waiting for the
// next interval.
func (s *Scanner) onDisconnect(deviceName string) {
	if !s.running || !s.config.AutoReconnect {
		return
	}
	log.Printf("Scanner: %s disconnected, initiating reconnection scan...", deviceName)
	go s.checkAndScan()
}

// Stop halts the scanning loop.
func (s *Scanner) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.central.StopScanning()
}

// scanLoop periodically checks whether the sensor is disconnected and
// starts scanning if needed.
func (s *Scanner) scanLoop() {
	log.Println("Scanner: Starting scan loop (checking every", s.config.ScanInterval, ")")

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	s.checkAndScan()

	for {
		select {
		case <-s.stop:
			log.Println("Scanner: Stopped")
			return
		case <-ticker.C:
			s.checkAndScan()
		}
	}
}

// checkAndScan starts a scan when no sensor is connected.
func (s *Scanner) checkAndScan() {
	if s.central.IsConnected() {
		return
	}

	if err := s.central.StartScanning(); err != nil {
		log.Printf("Scanner: Failed to start scan: %v", err)
	}
}

// WaitForConnection blocks until the sensor is connected or the timeout
// expires (0 = wait forever).
func (s *Scanner) WaitForConnection(timeout time.Duration) bool {
	start := time.Now()
	for {
		if s.central.IsConnected() {
			return true
		}
		if timeout > 0 && time.Since(start) > timeout {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
