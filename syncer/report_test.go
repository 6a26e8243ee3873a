package syncer

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func TestBuildStructuredData_DefaultSDIDWhenEmpty(t *testing.T) {
	sd := buildStructuredData("", map[string]string{"job": "sync-home"})
	if !strings.HasPrefix(sd, "[sync ") {
		t.Fatalf("expected default sdID=sync, got: %q", sd)
	}
}

func TestBuildStructuredData_PreferredOrderThenSortedExtras(t *testing.T) {
	sd := buildStructuredData("sync", map[string]string{
		"status":  "ok",
		"run_id":  "r1",
		"job":     "sync-home",
		"error":   "",
		"zzz":     "3",
		"backlog": "1",
	})
	want := `[sync job="sync-home" run_id="r1" status="ok" backlog="1" zzz="3"]`
	if sd != want {
		t.Fatalf("got  %q\nwant %q", sd, want)
	}
}

func TestBuildStructuredData_EscapesParamValues(t *testing.T) {
	sd := buildStructuredData("sync", map[string]string{"status": `a"b]c\d` + "\n"})
	if !strings.Contains(sd, `status="a\"b\]c\\d "`) {
		t.Fatalf("unexpected escaping: %q", sd)
	}
}

func TestFormatRFC5424(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	line := formatRFC5424("sync enricher", `[sync job="x"]`, " {\"a\":1} ", ts)
	if !strings.HasPrefix(line, "<134>1 2026-03-01T12:00:00Z ") {
		t.Fatalf("unexpected header: %q", line)
	}
	if !strings.Contains(line, " sync_enricher - - [sync job=\"x\"] {\"a\":1}\n") {
		t.Fatalf("unexpected body: %q", line)
	}
	if got := formatRFC5424("", "", "m", ts); !strings.Contains(got, " sync-enricher - - - m\n") {
		t.Fatalf("unexpected defaults: %q", got)
	}
}

func TestSyslogClient_Sends(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	c := NewSyslogClient(ln.Addr().String())
	if err := c.SendRFC5424Timeout("sync-enricher", `[sync job="x"]`, "hello", time.Second); err != nil {
		t.Fatal(err)
	}
	select {
	case line := <-got:
		if !strings.HasSuffix(line, "[sync job=\"x\"] hello\n") {
			t.Fatalf("unexpected line: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("collector received nothing")
	}
}
