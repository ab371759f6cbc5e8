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

// Package mafindex serves MAF indexes on App Engine.
//
// Indexes are read from INDEX_DIRECTORY, which is deployed with the
// application, and MAF files from the Cloud Storage bucket MAF_BUCKET using
// the bearer token of each request.
package mafindex

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/googlegenomics/mafindex/server"
	"github.com/grailbio/base/log"
	"google.golang.org/appengine"
)

func init() {
	s, err := server.New(server.Config{
		Directory: os.Getenv("INDEX_DIRECTORY"),
		Bucket:    os.Getenv("MAF_BUCKET"),
		Secure:    true,
	})
	if err != nil {
		log.Fatalf("Creating server: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), appEngineContext)
	s.Register(router)
	http.Handle("/", router)
}

// appEngineContext replaces the request context with an App Engine context so
// that outgoing storage requests are attributed to the application.
func appEngineContext(c *gin.Context) {
	c.Request = c.Request.WithContext(appengine.NewContext(c.Request))
	c.Next()
}
