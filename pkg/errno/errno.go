package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy of the Errno carrying a more specific message.
// The code is kept so callers can still branch on it.
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Is lets errors.Is match by code, ignoring a customized message.
func (e Errno) Is(target error) bool {
	switch t := target.(type) {
	case Errno:
		return e.Code == t.Code
	case *Errno:
		return e.Code == t.Code
	}
	return false
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Contention errors, retryable by the caller
var (
	ErrBusy     = Errno{Code: 10101, Message: "Account is busy, try again"}
	ErrConflict = Errno{Code: 10102, Message: "State changed concurrently, try again"}
)

// Business Errors (20000+)
var (
	ErrPlayerNotFound    = Errno{Code: 20101, Message: "Player not found"}
	ErrInsufficientFunds = Errno{Code: 20102, Message: "Insufficient TON balance"}
	ErrInsufficientGold  = Errno{Code: 20103, Message: "Insufficient gold"}
	ErrBelowMinimum      = Errno{Code: 20104, Message: "Amount is below the minimum"}
	ErrInvalidPackage    = Errno{Code: 20105, Message: "Unknown goblin package"}

	ErrListingNotFound = Errno{Code: 20201, Message: "Listing not found or no longer open"}
	ErrInvalidPrice    = Errno{Code: 20202, Message: "Price must be greater than zero"}
	ErrNotOwner        = Errno{Code: 20203, Message: "Listing belongs to another player"}
	ErrSelfTrade       = Errno{Code: 20204, Message: "Cannot buy your own listing"}

	ErrWithdrawalNotFound = Errno{Code: 20301, Message: "Withdrawal not found"}
)
