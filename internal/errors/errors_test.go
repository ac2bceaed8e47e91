/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Structured Errors", func() {
	Describe("AppError", func() {
		Context("basic error creation", func() {
			It("should create error with correct properties", func() {
				err := New(ErrorTypeReject, "test message")

				Expect(err.Type).To(Equal(ErrorTypeReject))
				Expect(err.Message).To(Equal("test message"))
				Expect(err.StatusCode).To(Equal(400))
				Expect(err.Details).To(BeEmpty())
				Expect(err.Cause).To(BeNil())
			})

			It("should implement error interface correctly", func() {
				err := New(ErrorTypeReject, "test message")

				Expect(err.Error()).To(Equal("reject: test message"))
			})

			It("should include details in error string when present", func() {
				err := New(ErrorTypeReject, "test message").WithDetails("extra info")

				Expect(err.Error()).To(Equal("reject: test message (extra info)"))
			})
		})

		Context("error wrapping", func() {
			It("should wrap underlying error", func() {
				originalErr := errors.New("original error")
				wrappedErr := Wrap(originalErr, ErrorTypeValidation, "operation failed")

				Expect(wrappedErr.Type).To(Equal(ErrorTypeValidation))
				Expect(wrappedErr.Message).To(Equal("operation failed"))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
				Expect(wrappedErr.Unwrap()).To(Equal(originalErr))
			})

			It("should format wrapped error with arguments", func() {
				originalErr := errors.New("budget exceeded")
				wrappedErr := Wrapf(originalErr, ErrorTypeRuntime, "step for pattern %d over budget by %d ticks", 7, 3)

				Expect(wrappedErr.Message).To(Equal("step for pattern 7 over budget by 3 ticks"))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
			})
		})

		Context("adding details", func() {
			It("should add details to existing error", func() {
				err := New(ErrorTypeFatal, "descriptor hash mismatch")
				detailedErr := err.WithDetails("expected abc got def")

				Expect(detailedErr.Details).To(Equal("expected abc got def"))
				Expect(detailedErr).To(BeIdenticalTo(err))
			})

			It("should add formatted details", func() {
				err := New(ErrorTypeFatal, "signature verification failed")
				detailedErr := err.WithDetailsf("snapshot %s, key %s", "snap-1", "key-1")

				Expect(detailedErr.Details).To(Equal("snapshot snap-1, key key-1"))
			})
		})
	})

	Describe("HTTP Status Code Mapping", func() {
		It("should map error types to correct HTTP status codes", func() {
			testCases := []struct {
				errorType  ErrorType
				statusCode int
			}{
				{ErrorTypeReject, 400},
				{ErrorTypeValidation, 422},
				{ErrorTypeRuntime, 409},
				{ErrorTypeFatal, 503},
			}

			for _, tc := range testCases {
				err := New(tc.errorType, "test")
				Expect(err.StatusCode).To(Equal(tc.statusCode))
				Expect(StatusCode(err)).To(Equal(tc.statusCode))
			}
		})
	})

	Describe("TypeOf", func() {
		It("classifies AppErrors by their kind", func() {
			Expect(TypeOf(New(ErrorTypeRuntime, "x"))).To(Equal(ErrorTypeRuntime))
		})

		It("treats unrecognized errors as fatal so callers fail closed", func() {
			Expect(TypeOf(errors.New("boom"))).To(Equal(ErrorTypeFatal))
		})
	})

	Describe("Is", func() {
		It("matches by Type, ignoring Message", func() {
			a := New(ErrorTypeReject, "payload was empty")
			b := New(ErrorTypeReject, "signature missing")
			Expect(errors.Is(a, b)).To(BeTrue())
		})

		It("does not match across Types", func() {
			a := New(ErrorTypeReject, "x")
			b := New(ErrorTypeFatal, "x")
			Expect(errors.Is(a, b)).To(BeFalse())
		})
	})
})
