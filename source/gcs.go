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

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// ErrMissingOrInvalidToken is returned when a request carries no usable
// OAuth2 bearer token.
var ErrMissingOrInvalidToken = errors.New("missing or invalid token")

// NewGCSRangeReader returns a RangeReader over a Cloud Storage object.
func NewGCSRangeReader(object *storage.ObjectHandle) RangeReader {
	return func(ctx context.Context, start, length int64) (io.ReadCloser, error) {
		return object.NewRangeReader(ctx, start, length)
	}
}

// NewPublicGCSClient returns a storage client without any authorization.  It
// can only read publicly readable objects.  Any opts override the default
// HTTP client.
func NewPublicGCSClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(http.DefaultClient)}, opts...)
	return storage.NewClient(ctx, opts...)
}

// NewGCSClient returns a storage client that uses the OAuth2 bearer token in
// authorization, the value of an HTTP Authorization header.  Any opts are
// applied after the token source.
func NewGCSClient(ctx context.Context, authorization string, opts ...option.ClientOption) (*storage.Client, error) {
	fields := strings.Split(authorization, " ")
	if len(fields) != 2 || fields[0] != "Bearer" || fields[1] == "" {
		return nil, ErrMissingOrInvalidToken
	}

	token := oauth2.Token{
		TokenType:   fields[0],
		AccessToken: fields[1],
	}
	opts = append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(&token))}, opts...)
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client with token source: %v", err)
	}
	return client, nil
}
