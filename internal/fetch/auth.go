// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetch

import (
	"bufio"
	"net/http"
	"os"
	"strings"

	"github.com/aboutcode-org/scanpipe/internal/config"
)

// Credential is the resolved auth material for one host.
type Credential struct {
	BasicUser     string
	BasicPassword string
	DigestUser    string
	DigestPassword string
	Headers       map[string]string
}

func (c Credential) empty() bool {
	return c.BasicUser == "" && c.DigestUser == "" && len(c.Headers) == 0
}

// resolver selects credentials for a host from the static configuration
// table, falling back to a parsed .netrc file when no explicit entry
// matches. Matching is by exact host; basic_auth takes priority over
// digest_auth, which takes priority over headers.
type resolver struct {
	cfg   config.FetchAuthConfig
	netrc map[string]netrcEntry
}

type netrcEntry struct {
	login    string
	password string
}

func newResolver(cfg config.FetchAuthConfig) *resolver {
	r := &resolver{cfg: cfg}
	if cfg.NetrcLocation != "" {
		r.netrc, _ = parseNetrc(cfg.NetrcLocation)
	}
	return r
}

// credentialFor returns the credential configured for host, or the zero
// Credential if none is configured.
func (r *resolver) credentialFor(host string) Credential {
	var cred Credential

	if ba, ok := r.cfg.BasicAuth[host]; ok {
		cred.BasicUser = ba.Username
		cred.BasicPassword = ba.Password
	}
	if cred.BasicUser == "" {
		if da, ok := r.cfg.DigestAuth[host]; ok {
			cred.DigestUser = da.Username
			cred.DigestPassword = da.Password
		}
	}
	if cred.BasicUser == "" && cred.DigestUser == "" {
		if headerVal, ok := r.cfg.Headers[host]; ok {
			cred.Headers = map[string]string{"Authorization": headerVal}
		}
	}

	if cred.empty() {
		if entry, ok := r.netrc[host]; ok {
			cred.BasicUser = entry.login
			cred.BasicPassword = entry.password
		}
	}

	return cred
}

// apply sets the request's auth headers from the resolved credential for
// req's host.
func (r *resolver) apply(req *http.Request) {
	cred := r.credentialFor(req.URL.Hostname())
	switch {
	case cred.BasicUser != "":
		req.SetBasicAuth(cred.BasicUser, cred.BasicPassword)
	case cred.DigestUser != "":
		// Digest credentials are not sent: nothing is set on the request
		// and no WWW-Authenticate challenge round-trip is made.
	}
	for k, v := range cred.Headers {
		req.Header.Set(k, v)
	}
}

// skopeoCredentialFor returns the container-registry credential
// configured for host, used by the docker:// puller.
func (r *resolver) skopeoCredentialFor(host string) (user, password string, ok bool) {
	if c, found := r.cfg.SkopeoCredentials[host]; found {
		return c.Username, c.Password, true
	}
	return "", "", false
}

// parseNetrc reads a subset of the .netrc format: machine/login/password
// triples, one machine per line or whitespace-separated tokens.
func parseNetrc(path string) (map[string]netrcEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make(map[string]netrcEntry)
	var machine, login, password string

	flush := func() {
		if machine != "" {
			entries[machine] = netrcEntry{login: login, password: password}
		}
		machine, login, password = "", "", ""
	}

	scanner := bufio.NewScanner(f)
	var fields []string
	for scanner.Scan() {
		fields = append(fields, strings.Fields(scanner.Text())...)
	}
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "machine":
			flush()
			if i+1 < len(fields) {
				machine = fields[i+1]
				i++
			}
		case "login":
			if i+1 < len(fields) {
				login = fields[i+1]
				i++
			}
		case "password":
			if i+1 < len(fields) {
				password = fields[i+1]
				i++
			}
		}
	}
	flush()
	return entries, nil
}
