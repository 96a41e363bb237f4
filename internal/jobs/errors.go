package jobs

// Error はAPIレスポンスに載せるエラーコードとメッセージを保持します。
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// エラーコード一覧。HTTPステータスへの対応は respondWithError を参照。
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotFound       = "NOT_FOUND"
	CodeNotReady       = "NOT_READY"
	CodeDuplicateID    = "DUPLICATE_ID"
	CodeFetchFailed    = "FETCH_FAILED"
	CodeAssemblyFailed = "ASSEMBLY_FAILED"
	CodeNoInputFiles   = "NO_INPUT_FILES"
)
