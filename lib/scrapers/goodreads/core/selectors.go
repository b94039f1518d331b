package core

import "godric-backend/lib/browser"

// Selectors locate things on the site. The browser selectors drive the
// sign-in flow, the rest are goquery selectors for fetched pages.
type Selectors struct {
	SignInButton browser.Selector `json:"sign_in_button"`
	Email        browser.Selector `json:"email"`
	Password     browser.Selector `json:"password"`
	Submit       browser.Selector `json:"submit"`
	ProfileMenu  browser.Selector `json:"profile_menu"`

	Pager       string `json:"pager"`
	PagerLink   string `json:"pager_link"`
	Row         string `json:"row"`
	RowPosition string `json:"row_position"`
	RowTitle    string `json:"row_title"`

	DetailTitle   string `json:"detail_title"`
	DetailAuthor  string `json:"detail_author"`
	DetailSummary string `json:"detail_summary"`
	DetailCover   string `json:"detail_cover"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		SignInButton: browser.ByClass("gr-button.gr-button--dark.gr-button--auth.authPortalConnectButton.authPortalSignInButton"),
		Email:        browser.ById("ap_email"),
		Password:     browser.ById("ap_password"),
		Submit:       browser.ById("signInSubmit"),
		ProfileMenu:  browser.ByClass("dropdown__trigger.dropdown__trigger--profileMenu.dropdown__trigger--personalNav"),

		Pager:       "#reviewPagination",
		PagerLink:   "a",
		Row:         `tr[class="bookalike review"]`,
		RowPosition: `td[class="field position"] div`,
		RowTitle:    `td[class="field title"] a`,

		DetailTitle:   `h1[class="Text Text__title1"]`,
		DetailAuthor:  `span[class="ContributorLink__name"]`,
		DetailSummary: `span[class="Formatted"]`,
		DetailCover:   `img[class="ResponsiveImage"]`,
	}
}
