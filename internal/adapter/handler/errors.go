package handler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/core/service"
)

const (
	codeDuplicateRequest = "duplicate_request"
	codeInternal         = "internal"
)

type errorMapping struct {
	http int
	grpc codes.Code
}

var errorMappings = map[string]errorMapping{
	domain.CodeProviderMismatch:         {http.StatusUnprocessableEntity, codes.FailedPrecondition},
	domain.CodeInvalidQuantity:          {http.StatusUnprocessableEntity, codes.InvalidArgument},
	domain.CodeInvalidPrice:             {http.StatusUnprocessableEntity, codes.InvalidArgument},
	domain.CodeAlreadyBilled:            {http.StatusConflict, codes.FailedPrecondition},
	domain.CodePartialBillingNotAllowed: {http.StatusUnprocessableEntity, codes.InvalidArgument},
	domain.CodeInvalidInput:             {http.StatusBadRequest, codes.InvalidArgument},
	domain.CodeNotFound:                 {http.StatusNotFound, codes.NotFound},
	domain.CodeAlreadyExists:            {http.StatusConflict, codes.AlreadyExists},
	domain.CodeBarrelReferenced:         {http.StatusConflict, codes.FailedPrecondition},
	codeDuplicateRequest:                {http.StatusConflict, codes.AlreadyExists},
}

// classify returns the public code for err and how each transport reports it.
// Anything unrecognized is an internal failure.
func classify(err error) (string, errorMapping) {
	code := domain.CodeOf(err)
	if code == "" && errors.Is(err, service.ErrDuplicateRequest) {
		code = codeDuplicateRequest
	}
	if m, ok := errorMappings[code]; ok {
		return code, m
	}
	return codeInternal, errorMapping{http.StatusInternalServerError, codes.Internal}
}

// validationDetail returns the offending field and context of a rejected request.
func validationDetail(err error) (string, map[string]string) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Field, verr.Details
	}
	return "", nil
}

// publicMessage hides infrastructure details from callers.
func publicMessage(code string, err error) string {
	if code == codeInternal {
		return "internal error"
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}
