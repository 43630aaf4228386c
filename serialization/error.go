package serialization

type SerializationError struct {
	Msg string
}

func (e *SerializationError) Error() string {
	return e.Msg
}

func errorf(msg string, err error) *SerializationError {
	return &SerializationError{Msg: msg + ": " + err.Error()}
}
