package ioc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/leakwatch/internal/model"
)

const testFP = "fp0000000000000000000000000000000000000000000000000000000000fp00"

func testPolicy(t *testing.T) Policy {
	t.Helper()
	p, err := ParsePolicy(
		[]string{"watched.org"},
		[]string{"@watched.org"},
		[]string{"10.0.0.0/24"},
	)
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	return p
}

func kinds(indicators []model.Indicator) map[model.IndicatorKind][]string {
	out := make(map[model.IndicatorKind][]string)
	for _, ind := range indicators {
		out[ind.Kind] = append(out[ind.Kind], ind.Value)
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func TestParsePolicy(t *testing.T) {
	p := testPolicy(t)
	if len(p.Domains) != 1 || p.Domains[0] != "watched.org" {
		t.Fatalf("domains = %v", p.Domains)
	}
	if len(p.EmailDomains) != 1 || p.EmailDomains[0] != "watched.org" {
		t.Fatalf("leading @ not stripped: %v", p.EmailDomains)
	}
	if len(p.Networks) != 1 {
		t.Fatalf("networks = %v", p.Networks)
	}

	if _, err := ParsePolicy(nil, nil, []string{"not-a-cidr"}); err == nil {
		t.Fatal("invalid CIDR accepted")
	}
	empty, err := ParsePolicy(nil, nil, nil)
	if err != nil {
		t.Fatalf("empty policy: %v", err)
	}
	if !empty.Empty() {
		t.Fatal("empty policy should report Empty")
	}
}

func TestScanURLHostname(t *testing.T) {
	s := NewScanner(testPolicy(t))
	got := kinds(s.ScanContent("see https://api.watched.org/v1/x for details\n", "a.txt", testFP, 1))
	if !contains(got[model.KindDomain], "api.watched.org") {
		t.Fatalf("URL hostname not extracted: %v", got)
	}
}

func TestScanURLWithoutScheme(t *testing.T) {
	s := NewScanner(testPolicy(t))
	got := kinds(s.ScanContent("mirror at cdn.watched.org/dump.bin today\n", "a.txt", testFP, 1))
	if !contains(got[model.KindDomain], "cdn.watched.org") {
		t.Fatalf("scheme-less URL hostname not extracted: %v", got)
	}
}

func TestScanBareDomain(t *testing.T) {
	s := NewScanner(testPolicy(t))

	got := kinds(s.ScanContent("found foo.watched.org. in logs\n", "a.txt", testFP, 1))
	if !contains(got[model.KindDomain], "foo.watched.org") {
		t.Fatalf("bare subdomain not extracted (trailing dot should be stripped): %v", got)
	}

	got = kinds(s.ScanContent("unrelated.example.com only\n", "a.txt", testFP, 1))
	if len(got[model.KindDomain]) != 0 {
		t.Fatalf("unwatched domain extracted: %v", got)
	}
}

func TestScanDomainAndEmailSameLine(t *testing.T) {
	s := NewScanner(testPolicy(t))
	indicators := s.ScanContent("foo.watched.org bar@watched.org\n", "a.txt", testFP, 7)

	got := kinds(indicators)
	if !contains(got[model.KindDomain], "foo.watched.org") {
		t.Fatalf("domain missing: %v", got)
	}
	if !contains(got[model.KindEmail], "bar@watched.org") {
		t.Fatalf("email missing: %v", got)
	}
	for _, ind := range indicators {
		if ind.SourceLine != 1 {
			t.Fatalf("line number = %d, want 1", ind.SourceLine)
		}
		if ind.ChannelID != 7 {
			t.Fatalf("channel id = %d, want 7", ind.ChannelID)
		}
	}
}

func TestScanEmailUnwatchedDomain(t *testing.T) {
	s := NewScanner(testPolicy(t))
	got := kinds(s.ScanContent("alice@elsewhere.com\n", "a.txt", testFP, 1))
	if len(got[model.KindEmail]) != 0 {
		t.Fatalf("unwatched email extracted: %v", got)
	}
}

func TestScanIPv4CIDR(t *testing.T) {
	s := NewScanner(testPolicy(t))

	got := kinds(s.ScanContent("hosts: 10.0.0.5 and 192.168.1.1 and 999.1.1.1\n", "a.txt", testFP, 1))
	if !contains(got[model.KindIPv4], "10.0.0.5") {
		t.Fatalf("in-CIDR address not extracted: %v", got)
	}
	if contains(got[model.KindIPv4], "192.168.1.1") {
		t.Fatalf("out-of-CIDR address extracted: %v", got)
	}
	if len(got[model.KindIPv4]) != 1 {
		t.Fatalf("ipv4 values = %v, want exactly one", got[model.KindIPv4])
	}
}

func TestScanLineNumbers(t *testing.T) {
	s := NewScanner(testPolicy(t))
	content := "nothing here\nhttps://api.watched.org/v1/x\n10.0.0.5\n"
	indicators := s.ScanContent(content, "hits.txt", testFP, 1)

	byLine := make(map[int][]model.IndicatorKind)
	for _, ind := range indicators {
		byLine[ind.SourceLine] = append(byLine[ind.SourceLine], ind.Kind)
	}
	if len(byLine[1]) != 0 {
		t.Fatalf("line 1 should be empty: %v", byLine[1])
	}
	if len(byLine[2]) == 0 || byLine[2][0] != model.KindDomain {
		t.Fatalf("line 2 should carry the domain: %v", byLine[2])
	}
	if len(byLine[3]) == 0 || byLine[3][0] != model.KindIPv4 {
		t.Fatalf("line 3 should carry the address: %v", byLine[3])
	}
}

func TestScanDisabledScanners(t *testing.T) {
	p, err := ParsePolicy(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := NewScanner(p)
	got := s.ScanContent("foo.watched.org bar@watched.org 10.0.0.5\n", "a.txt", testFP, 1)
	if len(got) != 0 {
		t.Fatalf("empty policy extracted %v", got)
	}
}

func TestScanDirRecursiveTxtOnly(t *testing.T) {
	s := NewScanner(testPolicy(t))
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "deep", "deeper"), 0750); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"top.txt":                "a@watched.org\n",
		"deep/deeper/inner.txt":  "10.0.0.9\n",
		"deep/ignored.csv":       "b@watched.org\n",
		"deep/deeper/binary.bin": "c@watched.org\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	indicators, err := s.ScanDir(root, testFP, 42)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	got := kinds(indicators)
	if !contains(got[model.KindEmail], "a@watched.org") {
		t.Fatalf("top.txt email missing: %v", got)
	}
	if !contains(got[model.KindIPv4], "10.0.0.9") {
		t.Fatalf("nested .txt address missing: %v", got)
	}
	if contains(got[model.KindEmail], "b@watched.org") || contains(got[model.KindEmail], "c@watched.org") {
		t.Fatalf("non-.txt files were scanned: %v", got)
	}
	for _, ind := range indicators {
		if ind.SourceFingerprint != testFP {
			t.Fatalf("fingerprint not propagated: %+v", ind)
		}
		if ind.RelativePath != "top.txt" && ind.RelativePath != "deep/deeper/inner.txt" {
			t.Fatalf("unexpected relative path %q", ind.RelativePath)
		}
	}
}

func TestScanDirLatin1Fallback(t *testing.T) {
	s := NewScanner(testPolicy(t))
	root := t.TempDir()
	// 0xE9 is é in Latin-1 and invalid as a standalone UTF-8 byte.
	content := append([]byte{0xE9, ' '}, []byte("victim@watched.org\n")...)
	if err := os.WriteFile(filepath.Join(root, "legacy.txt"), content, 0600); err != nil {
		t.Fatal(err)
	}

	indicators, err := s.ScanDir(root, testFP, 1)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	got := kinds(indicators)
	if !contains(got[model.KindEmail], "victim@watched.org") {
		t.Fatalf("latin-1 file not scanned: %v", got)
	}
}
