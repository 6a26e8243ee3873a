package syncer

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"
)

// ReportSender delivers one run report line.
type ReportSender interface {
	SendRFC5424Timeout(appName string, structuredData string, message string, timeout time.Duration) error
}

// SyslogClient writes RFC 5424 lines to a TCP collector, one connection per message.
type SyslogClient struct {
	addr string
}

func NewSyslogClient(addr string) *SyslogClient {
	return &SyslogClient{addr: addr}
}

func (c *SyslogClient) SendRFC5424Timeout(appName string, structuredData string, message string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("tcp", c.addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(formatRFC5424(appName, structuredData, message, time.Now())); err != nil {
		return err
	}
	return w.Flush()
}

func formatRFC5424(appName, structuredData, message string, ts time.Time) string {
	host, _ := os.Hostname()
	if appName == "" {
		appName = "sync-enricher"
	}
	if structuredData == "" {
		structuredData = "-"
	}
	pri := 134 // local0.info
	return fmt.Sprintf("<%d>1 %s %s %s - - %s %s\n", pri, ts.UTC().Format(time.RFC3339Nano),
		sanitizeSyslogToken(host), sanitizeSyslogToken(appName), structuredData, strings.TrimSpace(message))
}

func sanitizeSyslogToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, " ", "_")
}

func buildStructuredData(sdID string, kv map[string]string) string {
	if sdID == "" {
		sdID = "sync"
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(sdID)
	preferredOrder := []string{"job", "run_id", "status"}
	seen := make(map[string]struct{}, len(kv))
	write := func(k, v string) {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=\"")
		b.WriteString(escapeSDParam(v))
		b.WriteString("\"")
	}
	for _, k := range preferredOrder {
		v, ok := kv[k]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		seen[k] = struct{}{}
		write(k, v)
	}
	extraKeys := make([]string, 0, len(kv))
	for k, v := range kv {
		if _, ok := seen[k]; ok || strings.TrimSpace(v) == "" {
			continue
		}
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		write(k, kv[k])
	}
	b.WriteString("]")
	return b.String()
}

func escapeSDParam(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "]", "\\]")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}
