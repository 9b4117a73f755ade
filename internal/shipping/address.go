package shipping

import "shipsync/internal/model"

// StandardizeAddress consolidates an order's billing and shipping blocks
// into the single address a shipment is sent to. Fields are grouped —
// address, name, phone — and each group comes wholesale from shipping when
// any field of the group is filled in there, otherwise from billing. The
// country field never flips the address group on its own: checkouts often
// preselect a shipping country while the customer fills only billing.
// Company and email are picked per-field.
func StandardizeAddress(billing, shipping model.Address) model.Address {
	var out model.Address

	if shipping.StreetAddress1 != "" || shipping.StreetAddress2 != "" || shipping.Locality != "" ||
		shipping.Region != "" || shipping.PostalCode != "" {
		out.StreetAddress1 = shipping.StreetAddress1
		out.StreetAddress2 = shipping.StreetAddress2
		out.Locality = shipping.Locality
		out.Region = shipping.Region
		out.PostalCode = shipping.PostalCode
		out.Country = shipping.Country
	} else {
		out.StreetAddress1 = billing.StreetAddress1
		out.StreetAddress2 = billing.StreetAddress2
		out.Locality = billing.Locality
		out.Region = billing.Region
		out.PostalCode = billing.PostalCode
		out.Country = billing.Country
	}

	if shipping.FirstName != "" || shipping.LastName != "" {
		out.FirstName = shipping.FirstName
		out.LastName = shipping.LastName
	} else {
		out.FirstName = billing.FirstName
		out.LastName = billing.LastName
	}

	if shipping.PhoneCountry != "" || shipping.PhoneNumber != "" {
		out.PhoneCountry = shipping.PhoneCountry
		out.PhoneNumber = shipping.PhoneNumber
	} else {
		out.PhoneCountry = billing.PhoneCountry
		out.PhoneNumber = billing.PhoneNumber
	}

	out.Company = pick(shipping.Company, billing.Company)
	out.Email = pick(shipping.Email, billing.Email)
	return out
}

func pick(shipping, billing string) string {
	if shipping != "" {
		return shipping
	}
	return billing
}
