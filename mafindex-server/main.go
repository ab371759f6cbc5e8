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

// This binary provides an htsget style server for indexed MAF files.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/googlegenomics/mafindex/analytics"
	"github.com/googlegenomics/mafindex/index"
	"github.com/googlegenomics/mafindex/server"
	"github.com/grailbio/base/log"
)

var (
	port      = flag.Int("port", 80, "HTTP service port")
	blockSize = flag.Uint64("block_size", server.DefaultBlockSizeLimit, "block size soft limit for uncompressed MAF files")
	workers   = flag.Int("workers", 0, "concurrent scan workers per query (default GOMAXPROCS)")

	secure    = flag.Bool("secure", false, "serve in HTTPS-only mode and forward client bearer tokens")
	httpsCert = flag.String("https_cert", "", "HTTPS certificate file")
	httpsKey  = flag.String("https_key", "", "HTTPS key file")

	directory = flag.String("directory", "", "directory that contains the <id>.idx indexes and, unless -bucket is set, the MAF files")
	bucket    = flag.String("bucket", "", "if set, read MAF files from this Cloud Storage bucket")

	// Enable or disable anonymous usage tracking.
	//
	// If enabled, anonymous information about requests handled by the server is
	// logged to Google via Google Analytics.
	//
	// This information helps Google determine how well the software is
	// performing and where improvements should be made.  No user identifying
	// information is ever sent to Google.
	trackUsage = flag.Bool("track_usage", false, "anonymous usage tracking")
)

func main() {
	log.AddFlags()
	flag.Parse()

	if *directory == "" {
		log.Fatalf("You must specify -directory.")
	}
	if *secure && (*httpsCert == "" || *httpsKey == "") {
		log.Fatalf("You must specify both -https_cert and -https_key in secure mode.")
	}

	s, err := server.New(server.Config{
		Directory:      *directory,
		Bucket:         *bucket,
		Secure:         *secure,
		BlockSizeLimit: *blockSize,
		Index:          index.Options{Workers: *workers},
	})
	if err != nil {
		log.Fatalf("Creating server: %v", err)
	}
	defer s.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	if *trackUsage {
		log.Printf("Enabling anonymous usage tracking")

		client := analytics.NewClient("UA-103022118-1", uuid.New().String())
		router.Use(analytics.Middleware(func(hits []analytics.Hit) {
			if err := client.Send(context.Background(), hits); err != nil {
				log.Printf("Failed to send %d hits to analytics: %v", len(hits), err)
			}
		}))
	}
	s.Register(router)

	address := fmt.Sprintf(":%d", *port)
	log.Printf("Serving indexes from %s on %s", *directory, address)
	if *secure {
		if err := router.RunTLS(address, *httpsCert, *httpsKey); err != nil {
			log.Fatalf("HTTPS server returned an error: %v", err)
		}
	} else {
		if err := router.Run(address); err != nil {
			log.Fatalf("HTTP server returned an error: %v", err)
		}
	}
}
