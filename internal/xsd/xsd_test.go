package xsd_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/akshshar/xr-auditor/internal/xsd"
	"github.com/akshshar/xr-auditor/userfiles"
)

func mustParse(t *testing.T, data []byte) *xsd.Schema {
	t.Helper()
	s, err := xsd.Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return s
}

func TestComplianceSchemaIntrospection(t *testing.T) {
	s := mustParse(t, userfiles.ComplianceXSD)

	fields, err := s.GeneralFields()
	if err != nil {
		t.Fatalf("GeneralFields() error = %v", err)
	}
	want := []string{"PRODUCT", "VENDOR", "IPADDR", "HOST", "VERSION", "DATE", "OS"}
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("GeneralFields() = %v, want %v", fields, want)
	}

	p, ok := s.Pattern("DATE")
	if !ok || p != "[0-9]{8}-[0-9]{2}:[0-9]{2} [A-Z]{2,5}" {
		t.Errorf("Pattern(DATE) = %q, %v", p, ok)
	}
	if _, ok := s.Pattern("HOST"); ok {
		t.Error("Pattern(HOST) found a pattern on a plain string")
	}
}

const validDump = `<?xml version="1.0" encoding="UTF-8"?>
<COMPLIANCE-DUMP version="1.0.0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:noNamespaceSchemaLocation="compliance.xsd">
  <GENERAL>
    <VENDOR>Cisco</VENDOR>
    <PRODUCT>NCS-55A1-24H</PRODUCT>
    <IPADDR>192.168.122.21/24</IPADDR>
    <HOST>rtr1</HOST>
    <VERSION>7.3.2</VERSION>
    <DATE>20261018-09:30 UTC</DATE>
    <OS>IOS-XR</OS>
  </GENERAL>
  <INTEGRITY-SET>
    <INTEGRITY domain="XR-LXC">
      <DIRECTORIES>
        <DIRECTORY>
          <NAME>/etc</NAME>
          <CMD-LIST>
            <CMD><REQUEST>ls -ld</REQUEST><RESPONSE>drwxr-xr-x /etc</RESPONSE></CMD>
          </CMD-LIST>
        </DIRECTORY>
      </DIRECTORIES>
      <FILES>
        <FILE>
          <NAME>/etc/hostname</NAME>
          <CMD-LIST></CMD-LIST>
          <CONTENT>["rtr1"]</CONTENT>
          <CHECKSUM>0123456789abcdef0123456789abcdef</CHECKSUM>
        </FILE>
      </FILES>
    </INTEGRITY>
  </INTEGRITY-SET>
</COMPLIANCE-DUMP>`

func TestValidate(t *testing.T) {
	s := mustParse(t, userfiles.ComplianceXSD)

	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{name: "valid", doc: validDump},
		{
			name: "no general block",
			doc:  strings.Replace(validDump, validDump[strings.Index(validDump, "<GENERAL>"):strings.Index(validDump, "<INTEGRITY-SET>")], "", 1),
		},
		{
			name:    "missing general field",
			doc:     strings.Replace(validDump, "<HOST>rtr1</HOST>", "", 1),
			wantMsg: "missing required element HOST",
		},
		{
			name:    "duplicate general field",
			doc:     strings.Replace(validDump, "<OS>IOS-XR</OS>", "<OS>IOS-XR</OS><OS>IOS-XR</OS>", 1),
			wantMsg: "more than once",
		},
		{
			name:    "bad date",
			doc:     strings.Replace(validDump, "20261018-09:30 UTC", "Oct 18 2026", 1),
			wantMsg: "does not match pattern",
		},
		{
			name:    "bad domain",
			doc:     strings.Replace(validDump, `domain="XR-LXC"`, `domain="LC"`, 1),
			wantMsg: "is not one of",
		},
		{
			name:    "missing domain",
			doc:     strings.Replace(validDump, ` domain="XR-LXC"`, "", 1),
			wantMsg: "missing required attribute domain",
		},
		{
			name:    "missing version",
			doc:     strings.Replace(validDump, ` version="1.0.0"`, "", 1),
			wantMsg: "missing required attribute version",
		},
		{
			name:    "empty integrity set",
			doc:     validDump[:strings.Index(validDump, "<INTEGRITY domain")] + "</INTEGRITY-SET>\n</COMPLIANCE-DUMP>",
			wantMsg: "expected element INTEGRITY",
		},
		{
			name:    "files before directories",
			doc:     strings.Replace(strings.Replace(validDump, "<DIRECTORIES>", "<XDIRS>", 1), "</DIRECTORIES>", "</XDIRS>", 1),
			wantMsg: "expected element DIRECTORIES",
		},
		{
			name:    "bad checksum",
			doc:     strings.Replace(validDump, "0123456789abcdef0123456789abcdef", "xyz", 1),
			wantMsg: "does not match pattern",
		},
		{
			name:    "undeclared attribute",
			doc:     strings.Replace(validDump, "<FILE>", `<FILE mode="0644">`, 1),
			wantMsg: "undeclared attribute mode",
		},
		{
			name:    "unknown root",
			doc:     `<DUMP version="1"/>`,
			wantMsg: "no global declaration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.doc))
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr *xsd.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidateMalformed(t *testing.T) {
	s := mustParse(t, userfiles.ComplianceXSD)
	err := s.Validate([]byte("<COMPLIANCE-DUMP><INTEGRITY-SET>"))
	if err == nil {
		t.Fatal("Validate() error = nil for truncated document")
	}
	var verr *xsd.ValidationError
	if errors.As(err, &verr) {
		t.Errorf("Validate() error = %v, want a well-formedness error", err)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"not a schema", `<root/>`},
		{"dangling ref", `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
			<xs:element name="A"><xs:complexType><xs:sequence><xs:element ref="B"/></xs:sequence></xs:complexType></xs:element>
		</xs:schema>`},
		{"unknown type", `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><xs:element name="A" type="fooType"/></xs:schema>`},
		{"bad pattern", `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
			<xs:simpleType name="t"><xs:restriction base="xs:string"><xs:pattern value="([a-z"/></xs:restriction></xs:simpleType>
		</xs:schema>`},
		{"bad occurs", `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
			<xs:element name="A"><xs:complexType><xs:sequence><xs:element name="B" minOccurs="2" maxOccurs="1"/></xs:sequence></xs:complexType></xs:element>
		</xs:schema>`},
		{"union", `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
			<xs:simpleType name="t"><xs:union memberTypes="xs:int xs:string"/></xs:simpleType>
		</xs:schema>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := xsd.Parse([]byte(tt.schema))
			var perr *xsd.ParseError
			if !errors.As(err, &perr) {
				t.Errorf("Parse() error = %v, want *ParseError", err)
			}
		})
	}
}

func TestValidateChoiceAndBuiltins(t *testing.T) {
	s := mustParse(t, []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
		<xs:simpleType name="short"><xs:restriction base="xs:string"><xs:maxLength value="3"/></xs:restriction></xs:simpleType>
		<xs:complexType name="rowType">
			<xs:choice maxOccurs="unbounded">
				<xs:element name="N" type="xs:integer"/>
				<xs:element name="B" type="xs:boolean"/>
				<xs:element name="S" type="short"/>
			</xs:choice>
			<xs:attribute name="id" type="xs:positiveInteger"/>
		</xs:complexType>
		<xs:element name="ROW" type="rowType"/>
	</xs:schema>`))

	tests := []struct {
		doc   string
		valid bool
	}{
		{`<ROW id="1"><N>5</N><B>true</B><S>abc</S><N>-2</N></ROW>`, true},
		{`<ROW><N>five</N></ROW>`, false},
		{`<ROW><B>yes</B></ROW>`, false},
		{`<ROW><S>abcd</S></ROW>`, false},
		{`<ROW id="0"><N>1</N></ROW>`, false},
		{`<ROW></ROW>`, false},
		{`<ROW><X/></ROW>`, false},
	}
	for _, tt := range tests {
		err := s.Validate([]byte(tt.doc))
		if (err == nil) != tt.valid {
			t.Errorf("Validate(%s) error = %v, want valid=%v", tt.doc, err, tt.valid)
		}
	}
}
