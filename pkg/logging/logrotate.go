package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for workgate %[1]s
# Install: sudo cp this file to /etc/logrotate.d/workgate-%[1]s

%[2]s/%[1]s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 workgate workgate
    sharedscripts
    postrotate
        systemctl reload workgate-%[1]s 2>/dev/null || true
    endscript
}
`, component, DefaultBaseDir)
}
