// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary fetches alignment blocks from a MAF index server, authenticating
// with Google application default credentials.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/grailbio/base/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	scope = "https://www.googleapis.com/auth/devstorage.read_only"
)

var (
	reference = flag.String("r", "", "reference sequence name")
	start     = flag.String("start", "", "zero-based start of the region")
	end       = flag.String("end", "", "exclusive end of the region")
	output    = flag.String("o", "", "output filename")
)

type filterFlags url.Values

func (f filterFlags) String() string { return url.Values(f).Encode() }

func (f filterFlags) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return fmt.Errorf("filter %q is not of the form name=value", value)
	}
	url.Values(f).Set(parts[0], parts[1])
	return nil
}

type ticket struct {
	Container struct {
		Format string `json:"format"`
		URLs   []struct {
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
		} `json:"urls"`
	} `json:"htsget"`
}

func main() {
	filters := filterFlags{}
	flag.Var(filters, "filter", "block filter such as with_all_species=hg19,mm10 (repeatable)")
	log.AddFlags()
	flag.Parse()

	w := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to open output file: %v", err)
		}
		defer f.Close()

		w = f
	}

	ctx := context.Background()

	// For compatibility with other tools, read the standard cURL certificate
	// authority override from the environment.
	if bundle := os.Getenv("CURL_CA_BUNDLE"); bundle != "" {
		pem, err := ioutil.ReadFile(bundle)
		if err != nil {
			log.Fatalf("Failed to read CA override file %q: %v", bundle, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			log.Fatalf("Failed to initialize system certificate pool: %v", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			log.Fatalf("Failed to add certificates from bundle %q", bundle)
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: pool,
				}},
		})
		log.Printf("Using CA override bundle from %q", bundle)
	}

	client, err := google.DefaultClient(ctx, scope)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	params := url.Values(filters)
	for name, value := range map[string]string{"referenceName": *reference, "start": *start, "end": *end} {
		if value != "" {
			params.Set(name, value)
		}
	}

	for _, target := range flag.Args() {
		target = addParameters(target, params)
		log.Printf("Fetching %q", target)
		if err := fetch(ctx, client, target, w); err != nil {
			log.Fatalf("%v", err)
		}
	}
}

func fetch(ctx context.Context, client *http.Client, target string, w io.Writer) error {
	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response: %v", errorFromResponse(resp))
	}

	var t ticket
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return fmt.Errorf("decoding ticket: %v", err)
	}
	log.Printf("Received %s ticket with %d URLs", t.Container.Format, len(t.Container.URLs))

	var total uint64
	for i, block := range t.Container.URLs {
		n, err := fetchBlock(ctx, block.URL, block.Headers, w)
		if err != nil {
			return fmt.Errorf("block %d: %v", i, err)
		}
		total += uint64(n)
	}
	log.Printf("Wrote %s", humanize.Bytes(total))
	return nil
}

func addParameters(input string, values url.Values) string {
	if len(values) == 0 {
		return input
	}
	if strings.Contains(input, "?") {
		return input + "&" + values.Encode()
	}
	return input + "?" + values.Encode()
}

func fetchBlock(ctx context.Context, target string, headers map[string]string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %v", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	client := http.DefaultClient
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		client = c
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching data: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errorFromResponse(resp)
	}
	return io.Copy(w, resp.Body)
}

func errorFromResponse(resp *http.Response) error {
	v := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&v); err == nil {
		if message, ok := v["message"]; ok {
			return fmt.Errorf("%s: %v", v["error"], message)
		}
	}
	return fmt.Errorf("unexpected response status: %q", resp.Status)
}
