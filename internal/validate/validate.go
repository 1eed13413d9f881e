// Package validate wraps go-playground/validator so repository entry
// points can reject a malformed domain struct before it ever reaches a
// SQL statement, using the `validate:"..."` tags already carried by
// internal/domain's types.
package validate

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/deliveryctl/core/internal/domainerr"
)

var validate = validator.New()

// Struct validates v against its `validate:"..."` tags, returning a
// domainerr.KindInvalidArgument error describing every failing field if
// any fail.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return domainerr.Wrap(domainerr.KindInvalidArgument, err, "validating %T", v)
		}

		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
		}
		return domainerr.New(domainerr.KindInvalidArgument, "%T: %s", v, strings.Join(msgs, "; "))
	}
	return nil
}
