//go:build !unix

package localstate

func lockFile(string) (func(), error) {
	return func() {}, nil
}
