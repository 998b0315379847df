// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSerialize(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Serialize Suite")
}
