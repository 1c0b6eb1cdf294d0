package pe

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// SignatureInfo describes the Authenticode blob of an image.
type SignatureInfo struct {
	IsSigned        bool
	Offset          uint32
	Size            uint32
	DigestAlgorithm string
	Certificates    []CertificateInfo
}

// CertificateInfo contains information about a certificate in the signature chain.
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
}

// ValidAt reports whether t lies within the certificate's validity window.
func (c CertificateInfo) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// WIN_CERTIFICATE header.
type winCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

const (
	winCertHeaderLen           = 8
	winCertRevision2           = 0x0200
	winCertTypePKCSSignedData  = 0x0002
	winCertificateAlignment    = 8
	maxCertificateTableEntries = 16
)

// Signature reads the security directory. Unlike every other directory its
// VirtualAddress is a file offset.
func (img *Image) Signature() (*SignatureInfo, error) {
	dir := img.DataDirectory(DirSecurity)
	info := &SignatureInfo{Offset: dir.VirtualAddress, Size: dir.Size}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return info, nil
	}
	info.IsSigned = true

	off := int64(dir.VirtualAddress)
	end := off + int64(dir.Size)
	for i := 0; off+winCertHeaderLen <= end && i < maxCertificateTableEntries; i++ {
		var cert winCertificate
		if err := readStruct(img.src, off, winCertHeaderLen, &cert); err != nil {
			return info, errors.Wrap(err, "读取证书头失败")
		}
		if cert.Length < winCertHeaderLen || off+int64(cert.Length) > end {
			return info, errors.Wrapf(ErrOutOfRange, "证书长度 %d 无效", cert.Length)
		}
		if cert.Revision == winCertRevision2 && cert.CertificateType == winCertTypePKCSSignedData {
			data, err := img.src.Slice(off+winCertHeaderLen, int64(cert.Length)-winCertHeaderLen)
			if err != nil {
				return info, errors.Wrap(err, "读取证书数据失败")
			}
			if err := parsePKCS7(data, info); err != nil {
				return info, errors.Wrap(err, "解析PKCS#7签名失败")
			}
			return info, nil
		}
		off += int64(AlignUp(cert.Length, winCertificateAlignment))
	}
	return info, errors.New("不支持的证书类型")
}

// PKCS#7 ContentInfo.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// PKCS#7 SignedData, only the parts before the signer infos are decoded.
type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      contentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	SignerInfos      asn1.RawValue
}

func parsePKCS7(data []byte, info *SignatureInfo) error {
	var content contentInfo
	if _, err := asn1.Unmarshal(data, &content); err != nil {
		return err
	}

	var signed signedData
	if _, err := asn1.Unmarshal(content.Content.Bytes, &signed); err != nil {
		return err
	}

	if len(signed.DigestAlgorithms) > 0 {
		info.DigestAlgorithm = digestName(signed.DigestAlgorithms[0].Algorithm)
	}

	if signed.Certificates.Bytes == nil {
		return nil
	}
	certs, err := x509.ParseCertificates(signed.Certificates.Bytes)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		info.Certificates = append(info.Certificates, CertificateInfo{
			Subject:      cert.Subject.String(),
			Issuer:       cert.Issuer.String(),
			SerialNumber: fmt.Sprintf("%X", cert.SerialNumber),
			NotBefore:    cert.NotBefore,
			NotAfter:     cert.NotAfter,
		})
	}
	return nil
}

var digestNames = map[string]string{
	"1.3.14.3.2.26":          "SHA1",
	"2.16.840.1.101.3.4.2.1": "SHA256",
	"2.16.840.1.101.3.4.2.2": "SHA384",
	"2.16.840.1.101.3.4.2.3": "SHA512",
	"1.2.840.113549.2.5":     "MD5",
}

func digestName(oid asn1.ObjectIdentifier) string {
	if name, ok := digestNames[oid.String()]; ok {
		return name
	}
	return oid.String()
}
