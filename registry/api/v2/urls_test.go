package v2

import (
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

type urlBuilderTestCase struct {
	description  string
	expectedPath string
	build        func() (string, error)
}

func makeURLBuilderTestCases(urlBuilder *URLBuilder) []urlBuilderTestCase {
	return []urlBuilderTestCase{
		{
			description:  "test base url",
			expectedPath: "/v2/",
			build:        urlBuilder.BuildBaseURL,
		},
		{
			description:  "test tags url",
			expectedPath: "/v2/library/alpine/tags/list",
			build: func() (string, error) {
				return urlBuilder.BuildTagsURL("library", "alpine")
			},
		},
		{
			description:  "test manifest url tagged",
			expectedPath: "/v2/library/alpine/manifests/latest",
			build: func() (string, error) {
				return urlBuilder.BuildManifestURL("library", "alpine", "latest")
			},
		},
		{
			description:  "test manifest url with digest",
			expectedPath: "/v2/library/alpine/manifests/sha256:3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5",
			build: func() (string, error) {
				return urlBuilder.BuildManifestURL("library", "alpine", "sha256:3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5")
			},
		},
		{
			description:  "test blob url",
			expectedPath: "/v2/library/alpine/blobs/sha256:3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5",
			build: func() (string, error) {
				return urlBuilder.BuildBlobURL("library", "alpine", "sha256:3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5")
			},
		},
		{
			description:  "test blob upload url",
			expectedPath: "/v2/library/alpine/blobs/uploads/",
			build: func() (string, error) {
				return urlBuilder.BuildBlobUploadURL("library", "alpine")
			},
		},
		{
			description:  "test blob upload url with digest and size",
			expectedPath: "/v2/library/alpine/blobs/uploads/?digest=sha256%3A3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5&size=10000",
			build: func() (string, error) {
				return urlBuilder.BuildBlobUploadURL("library", "alpine", url.Values{
					"size":   []string{"10000"},
					"digest": []string{"sha256:3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5"},
				})
			},
		},
		{
			description:  "test blob upload chunk url",
			expectedPath: "/v2/library/alpine/blobs/uploads/0c4d1357-2d24-4b01-9c9a-e7a3a64e8a53",
			build: func() (string, error) {
				return urlBuilder.BuildBlobUploadChunkURL("library", "alpine", "0c4d1357-2d24-4b01-9c9a-e7a3a64e8a53")
			},
		},
		{
			description:  "test blob upload chunk url with digest and size",
			expectedPath: "/v2/library/alpine/blobs/uploads/0c4d1357-2d24-4b01-9c9a-e7a3a64e8a53?digest=sha256%3A3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5&size=10000",
			build: func() (string, error) {
				return urlBuilder.BuildBlobUploadChunkURL("library", "alpine", "0c4d1357-2d24-4b01-9c9a-e7a3a64e8a53", url.Values{
					"size":   []string{"10000"},
					"digest": []string{"sha256:3b3692957d439ac1928219a83fac91e7bf96c153725526874673ae1f2023f8d5"},
				})
			},
		},
	}
}

// TestURLBuilder tests the various url building functions, ensuring they are
// returning the expected values.
func TestURLBuilder(t *testing.T) {
	roots := []string{
		"http://example.com",
		"https://example.com",
		"http://localhost:5000",
		"https://localhost:5443",
	}

	for _, root := range roots {
		urlBuilder, err := NewURLBuilderFromString(root)
		if err != nil {
			t.Fatalf("unexpected error creating urlbuilder: %v", err)
		}

		for _, testCase := range makeURLBuilderTestCases(urlBuilder) {
			url, err := testCase.build()
			if err != nil {
				t.Fatalf("%s: error building url: %v", testCase.description, err)
			}
			expectedURL := root + testCase.expectedPath

			if url != expectedURL {
				t.Fatalf("%s: %q != %q", testCase.description, url, expectedURL)
			}
		}
	}
}

func TestURLBuilderWithPrefix(t *testing.T) {
	roots := []string{
		"http://example.com/prefix/",
		"https://example.com/prefix/",
		"http://localhost:5000/prefix/",
		"https://localhost:5443/prefix/",
	}

	for _, root := range roots {
		urlBuilder, err := NewURLBuilderFromString(root)
		if err != nil {
			t.Fatalf("unexpected error creating urlbuilder: %v", err)
		}

		for _, testCase := range makeURLBuilderTestCases(urlBuilder) {
			url, err := testCase.build()
			if err != nil {
				t.Fatalf("%s: error building url: %v", testCase.description, err)
			}

			expectedURL := root[0:len(root)-1] + testCase.expectedPath

			if url != expectedURL {
				t.Fatalf("%s: %q != %q", testCase.description, url, expectedURL)
			}
		}
	}
}

type builderFromRequestTestCase struct {
	request *http.Request
	base    string
}

func TestBuilderFromRequest(t *testing.T) {
	u, err := url.Parse("http://example.com")
	if err != nil {
		t.Fatal(err)
	}

	testRequests := []struct {
		name       string
		request    *http.Request
		base       string
		configHost url.URL
	}{
		{
			name:    "no forwarded header",
			request: &http.Request{URL: u, Host: u.Host},
			base:    "http://example.com",
		},
		{
			name: "https protocol forwarded with a non-standard header",
			request: &http.Request{
				URL:  u,
				Host: u.Host,
				Header: http.Header{
					"X-Custom-Forwarded-Proto": []string{"https"},
				},
			},
			base: "http://example.com",
		},
		{
			name: "forwarded protocol is the same",
			request: &http.Request{
				URL:  u,
				Host: u.Host,
				Header: http.Header{
					"X-Forwarded-Proto": []string{"https"},
				},
			},
			base: "https://example.com",
		},
		{
			name: "forwarded host with a non-standard header",
			request: &http.Request{
				URL:  u,
				Host: u.Host,
				Header: http.Header{
					"X-Forwarded-Host": []string{"first.example.com"},
				},
			},
			base: "http://first.example.com",
		},
		{
			name: "forwarded multiple hosts a with non-standard header",
			request: &http.Request{
				URL:  u,
				Host: u.Host,
				Header: http.Header{
					"X-Forwarded-Host": []string{"first.example.com, proxy1.example.com"},
				},
			},
			base: "http://first.example.com",
		},
		{
			name: "rfc7239 forwarded header takes precedence over x-forwarded-host",
			request: &http.Request{
				URL:  u,
				Host: u.Host,
				Header: http.Header{
					"Forwarded":        []string{"host=first.example.com"},
					"X-Forwarded-Host": []string{"second.example.com"},
				},
			},
			base: "http://first.example.com",
		},
		{
			name: "rfc7239 forwarded header with proto and quoted host",
			request: &http.Request{
				URL:  u,
				Host: u.Host,
				Header: http.Header{
					"Forwarded": []string{`proto=https;host="first.example.com:8888"`},
				},
			},
			base: "https://first.example.com:8888",
		},
	}

	for _, tr := range testRequests {
		t.Run(tr.name, func(t *testing.T) {
			builder := NewURLBuilderFromRequest(tr.request)

			for _, testCase := range makeURLBuilderTestCases(builder) {
				buildURL, err := testCase.build()
				if err != nil {
					t.Fatalf("%s: error building url: %v", testCase.description, err)
				}

				expectedURL := tr.base + testCase.expectedPath

				if buildURL != expectedURL {
					t.Errorf("%s: %q != %q", testCase.description, buildURL, expectedURL)
				}
			}
		})
	}
}

func TestBuilderFromRequestWithPrefix(t *testing.T) {
	u, err := url.Parse("http://example.com/prefix/v2/")
	if err != nil {
		t.Fatal(err)
	}

	forwardedProtoHeader := make(http.Header, 1)
	forwardedProtoHeader.Set("X-Forwarded-Proto", "https")

	testRequests := []builderFromRequestTestCase{
		{
			request: &http.Request{URL: u, Host: u.Host},
			base:    "http://example.com/prefix",
		},
		{
			request: &http.Request{URL: u, Host: u.Host, Header: forwardedProtoHeader},
			base:    "https://example.com/prefix",
		},
	}

	for _, tr := range testRequests {
		builder := NewURLBuilderFromRequest(tr.request)

		for _, testCase := range makeURLBuilderTestCases(builder) {
			buildURL, err := testCase.build()
			if err != nil {
				t.Fatalf("%s: error building url: %v", testCase.description, err)
			}

			expectedURL := tr.base + testCase.expectedPath

			if buildURL != expectedURL {
				t.Fatalf("%s: %q != %q", testCase.description, buildURL, expectedURL)
			}
		}
	}
}

func TestParseForwardedHeader(t *testing.T) {
	for _, tc := range []struct {
		name          string
		raw           string
		expectedMap   map[string]string
		expectedRest  string
		expectedError bool
	}{
		{
			name:        "empty header",
			raw:         "",
			expectedMap: map[string]string{},
		},
		{
			name:        "single proto parameter",
			raw:         "proto=https",
			expectedMap: map[string]string{"proto": "https"},
		},
		{
			name:        "compound parameter",
			raw:         "host=registry.example.com;proto=https",
			expectedMap: map[string]string{"host": "registry.example.com", "proto": "https"},
		},
		{
			name:        "quoted host parameter",
			raw:         `host="registry.example.com:5000"`,
			expectedMap: map[string]string{"host": "registry.example.com:5000"},
		},
		{
			name:         "parameters of the second element are not parsed",
			raw:          "host=first.example.com, for=198.51.100.17",
			expectedMap:  map[string]string{"host": "first.example.com"},
			expectedRest: " for=198.51.100.17",
		},
		{
			name:        "parameter names are case insensitive",
			raw:         "HoSt=EXAMPLE.com",
			expectedMap: map[string]string{"host": "EXAMPLE.com"},
		},
		{
			name:        "escaped characters in quoted strings",
			raw:         `host="quotes \"in\" quotes"`,
			expectedMap: map[string]string{"host": `quotes "in" quotes`},
		},
		{
			name:          "missing equal sign",
			raw:           "proto",
			expectedError: true,
		},
		{
			name:          "empty parameter value",
			raw:           "host=;proto=https",
			expectedError: true,
		},
		{
			name:          "duplicate parameter",
			raw:           "proto=https;proto=http",
			expectedError: true,
		},
		{
			name:          "unterminated quoted string",
			raw:           `host="registry.example.com`,
			expectedError: true,
		},
		{
			name:          "invalid character in parameter name",
			raw:           "pro to=https",
			expectedError: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			parsed, rest, err := parseForwardedHeader(tc.raw)
			if tc.expectedError {
				if err == nil {
					t.Fatalf("expected error parsing %q, got map %v", tc.raw, parsed)
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to parse %q: %v", tc.raw, err)
			}
			if !reflect.DeepEqual(parsed, tc.expectedMap) {
				t.Errorf("got map %v, expected %v", parsed, tc.expectedMap)
			}
			if rest != tc.expectedRest {
				t.Errorf("got rest %q, expected %q", rest, tc.expectedRest)
			}
		})
	}
}
