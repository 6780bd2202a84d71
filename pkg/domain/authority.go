package domain

// CheckAuthority fails with ErrAuthorityMismatch unless caller owns the record.
func CheckAuthority(caller, owner Identity) error {
	if caller != owner {
		return ErrAuthorityMismatch
	}
	return nil
}
