package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/pkg/allocapi"
)

// allocctl is the operator CLI for the allocator service, mainly used for
// the manual-allocation path once a case has exhausted its waves.
func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "allocate":
		runAllocate(os.Args[2:])
	case "bulk":
		runBulk(os.Args[2:])
	case "unallocate":
		runUnallocate(os.Args[2:])
	case "decisions":
		runDecisions(os.Args[2:])
	case "capacity":
		runCapacity(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: allocctl <allocate|bulk|unallocate|decisions|capacity> [...]")
}

func baseURL(fs *flag.FlagSet) *string {
	def := strings.TrimSpace(os.Getenv("SECUREPATH_ALLOCATOR_URL"))
	if def == "" {
		def = "http://localhost:8082"
	}
	return fs.String("addr", def, "allocator base URL")
}

func runAllocate(args []string) {
	fs := flag.NewFlagSet("allocate", flag.ExitOnError)
	addr := baseURL(fs)
	caseID := fs.String("case", "", "case id")
	_ = fs.Parse(args)
	if *caseID == "" {
		fatalf("-case is required")
	}
	body := post(*addr+"/v1/cases/"+*caseID+"/allocate", nil)
	var res allocapi.AllocateResponse
	mustDecode(body, &res)
	fmt.Printf("case %s -> %s (%s) wave %d score %.4f deadline %s\n",
		res.CaseID, res.CandidateID, res.CandidateType, res.Wave, res.Score, res.AcceptanceDeadline)
}

func runBulk(args []string) {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	addr := baseURL(fs)
	cases := fs.String("cases", "", "comma-separated case ids")
	_ = fs.Parse(args)
	ids := splitNonEmpty(*cases)
	if len(ids) == 0 {
		fatalf("-cases is required")
	}
	body := post(*addr+"/v1/allocations/bulk", allocapi.BulkAllocateRequest{CaseIDs: ids})
	var res allocapi.BulkAllocateResponse
	mustDecode(body, &res)
	fmt.Printf("successful=%d failed=%d\n", res.Successful, res.Failed)
	for _, e := range res.Errors {
		fmt.Printf("  %s\n", e)
	}
}

func runUnallocate(args []string) {
	fs := flag.NewFlagSet("unallocate", flag.ExitOnError)
	addr := baseURL(fs)
	caseID := fs.String("case", "", "case id")
	reason := fs.String("reason", "operator action", "unallocation reason")
	_ = fs.Parse(args)
	if *caseID == "" {
		fatalf("-case is required")
	}
	post(*addr+"/v1/cases/"+*caseID+"/unallocate", allocapi.UnallocateRequest{Reason: *reason})
	fmt.Printf("case %s unallocated\n", *caseID)
}

func runDecisions(args []string) {
	fs := flag.NewFlagSet("decisions", flag.ExitOnError)
	addr := baseURL(fs)
	caseID := fs.String("case", "", "case id")
	_ = fs.Parse(args)
	if *caseID == "" {
		fatalf("-case is required")
	}
	body := get(*addr + "/v1/cases/" + *caseID + "/decisions")
	var res allocapi.DecisionsResponse
	mustDecode(body, &res)
	for _, d := range res.Decisions {
		line := fmt.Sprintf("wave %d  %-9s  %s (%s)  score %.4f", d.Wave, d.Decision, d.CandidateID, d.CandidateType, d.Score)
		if d.Reason != "" {
			line += "  reason: " + d.Reason
		}
		fmt.Println(line)
	}
}

func runCapacity(args []string) {
	fs := flag.NewFlagSet("capacity", flag.ExitOnError)
	addr := baseURL(fs)
	candidateID := fs.String("candidate", "", "candidate id")
	_ = fs.Parse(args)
	if *candidateID == "" {
		fatalf("-candidate is required")
	}
	body := get(*addr + "/v1/candidates/" + *candidateID + "/capacity")
	var res allocapi.CapacityResponse
	mustDecode(body, &res)
	fmt.Printf("%s day %s: %d/%d available (%d allocated)\n",
		res.CandidateID, res.Day, res.CurrentAvailable, res.MaxDailyCapacity, res.CasesAllocated)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func post(url string, payload any) []byte {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req)
}

func get(url string) []byte {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fatalf("build request: %v", err)
	}
	return do(req)
}

func do(req *http.Request) []byte {
	if token := strings.TrimSpace(os.Getenv("SECUREPATH_API_TOKEN")); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		fatalf("request %s: %v", req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read response: %v", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr allocapi.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			fatalf("%s: %s", resp.Status, apiErr.Error)
		}
		fatalf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body
}

func mustDecode(body []byte, v any) {
	if err := json.Unmarshal(body, v); err != nil {
		fatalf("decode response: %v", err)
	}
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
