package rtl

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//Height returns the number of rows of a matrix.
func Height(m mat.Matrix) int {
	h, _ := m.Dims()
	return h
}

//Width returns the number of columns of a matrix.
func Width(m mat.Matrix) int {
	_, w := m.Dims()
	return w
}

//CheckMatrix rejects nil and row-less feature matrices with ErrEmptyInput.
func CheckMatrix(m *mat.Dense) error {
	if m == nil || m.IsEmpty() {
		return ErrEmptyInput
	}
	return nil
}

//ReadNpy reads the content of npy file
func ReadNpy(fileName string) (denseMat *mat.Dense, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read npy header of %s: %w", fileName, err)
	}

	denseMat = &mat.Dense{}
	if err = r.Read(denseMat); err != nil {
		return nil, fmt.Errorf("read npy data of %s: %w", fileName, err)
	}
	return denseMat, nil
}

//WriteNpy stores a matrix in the npy format.
func WriteNpy(fileName string, m *mat.Dense) (err error) {
	dst, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
	}()
	return npyio.Write(dst, m)
}
